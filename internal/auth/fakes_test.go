package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]User // by id
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]User{}}
}

func (s *fakeUserStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

func (s *fakeUserStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *fakeUserStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *fakeUserStore) GetUserByLogin(_ context.Context, login string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == login || user.Email == login {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *fakeUserStore) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeUserStore) EmailExists(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	s.users[userID] = user
	return nil
}

type fakeRefreshStore struct {
	mu     sync.Mutex
	nextID int
	tokens map[string]RefreshTokenRecord // by hash
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{tokens: map[string]RefreshTokenRecord{}}
}

func (s *fakeRefreshStore) CreateRefreshToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.tokens[tokenHash] = RefreshTokenRecord{
		ID:        fmt.Sprintf("rt-%d", s.nextID),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *fakeRefreshStore) GetRefreshToken(_ context.Context, tokenHash string) (RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tokens[tokenHash]
	if !ok {
		return RefreshTokenRecord{}, ErrRefreshInvalid
	}
	return record, nil
}

func (s *fakeRefreshStore) DeleteRefreshToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenHash)
	return nil
}

func (s *fakeRefreshStore) ReplaceRefreshToken(_ context.Context, oldHash, newHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tokens[oldHash]
	if !ok || old.RevokedAt != nil {
		return ErrRefreshInvalid
	}

	now := time.Now().UTC()
	old.RevokedAt = &now
	s.tokens[oldHash] = old

	s.nextID++
	s.tokens[newHash] = RefreshTokenRecord{
		ID:        fmt.Sprintf("rt-%d", s.nextID),
		UserID:    old.UserID,
		TokenHash: newHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	return nil
}

func (s *fakeRefreshStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tokens[tokenHash]
	if !ok {
		return nil
	}
	if record.RevokedAt == nil {
		now := time.Now().UTC()
		record.RevokedAt = &now
		s.tokens[tokenHash] = record
	}
	return nil
}

// expire rewinds a stored token's expiry for tests.
func (s *fakeRefreshStore) expire(tokenHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.tokens[tokenHash]
	record.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	s.tokens[tokenHash] = record
}

type fakeOtpStore struct {
	mu         sync.Mutex
	nextID     int
	challenges map[string]OtpChallenge // by id
}

func newFakeOtpStore() *fakeOtpStore {
	return &fakeOtpStore{challenges: map[string]OtpChallenge{}}
}

func (s *fakeOtpStore) CreateChallenge(_ context.Context, challenge OtpChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	challenge.ID = fmt.Sprintf("otp-%d", s.nextID)
	s.challenges[challenge.ID] = challenge
	return nil
}

func (s *fakeOtpStore) LatestChallenge(_ context.Context, email string, verified bool) (OtpChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matching := make([]OtpChallenge, 0, 1)
	for _, c := range s.challenges {
		if c.Email == email && c.Verified == verified {
			matching = append(matching, c)
		}
	}
	if len(matching) == 0 {
		return OtpChallenge{}, ErrOtpNotFound
	}
	sort.Slice(matching, func(i, j int) bool {
		if matching[i].CreatedAt.Equal(matching[j].CreatedAt) {
			return matching[i].ID > matching[j].ID
		}
		return matching[i].CreatedAt.After(matching[j].CreatedAt)
	})
	return matching[0], nil
}

func (s *fakeOtpStore) SaveChallenge(_ context.Context, challenge OtpChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.ID] = challenge
	return nil
}

func (s *fakeOtpStore) DeleteChallenge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, id)
	return nil
}

func (s *fakeOtpStore) DeleteChallengesByEmail(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.challenges {
		if c.Email == email {
			delete(s.challenges, id)
		}
	}
	return nil
}

// expire rewinds every challenge for the email.
func (s *fakeOtpStore) expire(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.challenges {
		if c.Email == email {
			c.ExpiresAt = time.Now().UTC().Add(-time.Minute)
			s.challenges[id] = c
		}
	}
}

func (s *fakeOtpStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (s *fakeSender) Send(_ context.Context, to, subject, htmlBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentEmail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (s *fakeSender) last() sentEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentEmail{}
	}
	return s.sent[len(s.sent)-1]
}

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// OtpChallengeStore is the persistence collaborator for OTP challenges. It
// only needs read-your-writes consistency per email; the OtpService serializes
// concurrent verify attempts itself.
type OtpChallengeStore interface {
	CreateChallenge(ctx context.Context, challenge OtpChallenge) error
	// LatestChallenge returns the most recent challenge for email matching the
	// verified flag, or ErrOtpNotFound.
	LatestChallenge(ctx context.Context, email string, verified bool) (OtpChallenge, error)
	SaveChallenge(ctx context.Context, challenge OtpChallenge) error
	DeleteChallenge(ctx context.Context, id string) error
	DeleteChallengesByEmail(ctx context.Context, email string) error
}

// OtpService generates and verifies short numeric reset codes. Codes are
// bcrypt-hashed at rest; terminal failures (expiry, exhausted attempts)
// destroy the challenge so no further verify call can succeed against it.
type OtpService struct {
	store       OtpChallengeStore
	ttl         time.Duration
	maxAttempts int
	locks       keyedMutex
}

func NewOtpService(store OtpChallengeStore, ttl time.Duration, maxAttempts int) *OtpService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &OtpService{store: store, ttl: ttl, maxAttempts: maxAttempts}
}

// Create replaces any existing challenges for the email with a fresh one and
// returns the plaintext code for delivery. The code is never stored or logged.
func (s *OtpService) Create(ctx context.Context, email string) (string, time.Time, error) {
	unlock := s.locks.lock(email)
	defer unlock()

	if err := s.store.DeleteChallengesByEmail(ctx, email); err != nil {
		return "", time.Time{}, err
	}

	code, err := generateOtpCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate otp code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("hash otp code: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.ttl)
	challenge := OtpChallenge{
		Email:       email,
		CodeHash:    string(hash),
		ExpiresAt:   expiresAt,
		Attempts:    0,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		return "", time.Time{}, err
	}

	return code, expiresAt, nil
}

// Verify checks a submitted code against the most recent unverified challenge
// for the email. Calls for the same email are serialized so two concurrent
// attempts cannot both observe the same attempts count.
func (s *OtpService) Verify(ctx context.Context, email, code string) error {
	unlock := s.locks.lock(email)
	defer unlock()

	challenge, err := s.store.LatestChallenge(ctx, email, false)
	if err != nil {
		if errors.Is(err, ErrOtpNotFound) {
			return ErrOtpNotFound
		}
		return err
	}

	if !time.Now().UTC().Before(challenge.ExpiresAt) {
		if err := s.store.DeleteChallenge(ctx, challenge.ID); err != nil {
			return err
		}
		return ErrOtpExpired
	}

	if challenge.Attempts >= challenge.MaxAttempts {
		if err := s.store.DeleteChallenge(ctx, challenge.ID); err != nil {
			return err
		}
		return ErrOtpExhausted
	}

	if bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)) != nil {
		challenge.Attempts++
		if err := s.store.SaveChallenge(ctx, challenge); err != nil {
			return err
		}
		return &OtpMismatchError{Remaining: challenge.MaxAttempts - challenge.Attempts}
	}

	challenge.Verified = true
	if err := s.store.SaveChallenge(ctx, challenge); err != nil {
		return err
	}

	return nil
}

// IsVerified reports whether a verified challenge currently exists for email.
func (s *OtpService) IsVerified(ctx context.Context, email string) (bool, error) {
	_, err := s.store.LatestChallenge(ctx, email, true)
	if err != nil {
		if errors.Is(err, ErrOtpNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Consume redeems a verified challenge, deleting it so the proof authorizes
// exactly one password reset. Fails ErrOtpNotVerified when none exists.
func (s *OtpService) Consume(ctx context.Context, email string) error {
	unlock := s.locks.lock(email)
	defer unlock()

	challenge, err := s.store.LatestChallenge(ctx, email, true)
	if err != nil {
		if errors.Is(err, ErrOtpNotFound) {
			return ErrOtpNotVerified
		}
		return err
	}

	return s.store.DeleteChallenge(ctx, challenge.ID)
}

// generateOtpCode draws a 6-digit code from crypto/rand, 100000..999999.
func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// keyedMutex linearizes work per key without a global lock.
type keyedMutex struct {
	locks sync.Map // key -> *sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

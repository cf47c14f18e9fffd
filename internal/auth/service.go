package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"nestgame-backend/internal/mail"
)

// UserStore is the persistence collaborator for user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	// GetUserByLogin resolves by username or email.
	GetUserByLogin(ctx context.Context, login string) (User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// Service orchestrates the register, login, refresh and password-reset flows.
// It is the only component that talks to the email collaborator.
type Service struct {
	users       UserStore
	tokens      *TokenService
	otp         *OtpService
	mailer      mail.Sender
	frontendURL string
}

func NewService(users UserStore, tokens *TokenService, otp *OtpService, mailer mail.Sender, frontendURL string) *Service {
	return &Service{
		users:       users,
		tokens:      tokens,
		otp:         otp,
		mailer:      mailer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

func (s *Service) Register(ctx context.Context, username, email, password string) (AuthResult, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)

	taken, err := s.users.UsernameExists(ctx, username)
	if err != nil {
		return AuthResult{}, err
	}
	if taken {
		return AuthResult{}, ErrUsernameTaken
	}

	taken, err = s.users.EmailExists(ctx, email)
	if err != nil {
		return AuthResult{}, err
	}
	if taken {
		return AuthResult{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	user := User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return AuthResult{}, err
	}

	return s.issueResult(ctx, user)
}

// Login resolves the account by username or email. An unknown login and a
// wrong password fail identically so callers cannot probe which accounts
// exist.
func (s *Service) Login(ctx context.Context, login, password string) (AuthResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return AuthResult{}, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	if !user.Active {
		return AuthResult{}, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	return s.issueResult(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, rawRefreshToken string) (AuthResult, error) {
	userID, rotated, err := s.tokens.RedeemRefreshToken(ctx, rawRefreshToken)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return AuthResult{}, err
	}

	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		AccessToken:  access,
		RefreshToken: rotated,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		User:         user.Profile(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, rawRefreshToken string) error {
	return s.tokens.RevokeRefreshToken(ctx, rawRefreshToken)
}

func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword, confirmation string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrCurrentPasswordWrong
	}

	if newPassword != confirmation {
		return ErrPasswordConfirmation
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.users.UpdatePassword(ctx, user.ID, string(hash))
}

// RequestPasswordReset is the link variant: a scoped reset token is mailed to
// the account's address.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrEmailNotFound
		}
		return err
	}

	resetToken, err := s.tokens.IssueResetToken(user)
	if err != nil {
		return err
	}

	link := s.frontendURL + "/reset-password?token=" + resetToken
	subject, body := mail.PasswordResetEmail(user.Username, link)
	if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}

	return nil
}

func (s *Service) ResetPasswordWithToken(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.ValidateResetToken(token)
	if err != nil {
		return err
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.users.UpdatePassword(ctx, user.ID, string(hash))
}

// SendOtp is the OTP variant of password reset: a fresh challenge is created
// and its code mailed to the account's address.
func (s *Service) SendOtp(ctx context.Context, email string) (time.Time, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return time.Time{}, ErrEmailNotFound
		}
		return time.Time{}, err
	}

	code, expiresAt, err := s.otp.Create(ctx, email)
	if err != nil {
		return time.Time{}, err
	}

	subject, body := mail.OtpEmail(user.Username, code, s.otp.ttl)
	if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}

	return expiresAt, nil
}

func (s *Service) VerifyOtp(ctx context.Context, email, code string) error {
	return s.otp.Verify(ctx, normalizeEmail(email), code)
}

// ResetPasswordWithOtp commits a new password after OTP verification. The
// verified challenge is consumed, so the proof works exactly once.
func (s *Service) ResetPasswordWithOtp(ctx context.Context, email, newPassword string) error {
	email = normalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrEmailNotFound
		}
		return err
	}

	if err := s.otp.Consume(ctx, email); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.users.UpdatePassword(ctx, user.ID, string(hash))
}

func (s *Service) issueResult(ctx context.Context, user User) (AuthResult, error) {
	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return AuthResult{}, err
	}

	refresh, err := s.tokens.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		User:         user.Profile(),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess = "access"
	tokenTypeReset  = "reset"
)

// RefreshTokenStore is the persistence collaborator for refresh tokens. The
// store never sees raw token values, only their sha256 hex digests.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (RefreshTokenRecord, error)
	DeleteRefreshToken(ctx context.Context, tokenHash string) error
	// ReplaceRefreshToken revokes the old token and installs its replacement
	// in a single write.
	ReplaceRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) error
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
}

type Claims struct {
	UserID   string
	Username string
	Role     string
}

// TokenService mints and validates the credential pair: stateless HS256
// access tokens plus persisted opaque refresh tokens. Reset tokens reuse the
// access-token mechanism under a distinct typ claim so neither kind is ever
// accepted in place of the other.
type TokenService struct {
	store      RefreshTokenStore
	secret     []byte
	accessTTL  time.Duration
	resetTTL   time.Duration
	refreshTTL time.Duration
}

func NewTokenService(store RefreshTokenStore, secret string, accessTTL, resetTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		store:      store,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		resetTTL:   resetTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

func (s *TokenService) IssueAccessToken(user User) (string, error) {
	return s.sign(user, tokenTypeAccess, s.accessTTL)
}

func (s *TokenService) IssueResetToken(user User) (string, error) {
	return s.sign(user, tokenTypeReset, s.resetTTL)
}

func (s *TokenService) sign(user User, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"name": user.Username,
		"role": user.Role,
		"typ":  tokenType,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, nil
}

func (s *TokenService) ValidateAccessToken(raw string) (Claims, error) {
	return s.validate(raw, tokenTypeAccess)
}

func (s *TokenService) ValidateResetToken(raw string) (Claims, error) {
	return s.validate(raw, tokenTypeReset)
}

func (s *TokenService) validate(raw, wantType string) (Claims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Claims{}, ErrTokenInvalid
	}

	if tokenType, _ := claims["typ"].(string); tokenType != wantType {
		return Claims{}, ErrTokenInvalid
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Claims{}, ErrTokenInvalid
	}
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)

	return Claims{UserID: sub, Username: name, Role: role}, nil
}

// IssueRefreshToken mints a random opaque token for the user and persists its
// digest with the configured TTL. The raw value is returned exactly once.
func (s *TokenService) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	raw, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}

	if err := s.store.CreateRefreshToken(ctx, userID, hashToken(raw), time.Now().UTC().Add(s.refreshTTL)); err != nil {
		return "", err
	}

	return raw, nil
}

// RedeemRefreshToken validates a raw refresh token and rotates it. An unknown
// or revoked token fails ErrRefreshInvalid. An expired token is deleted and
// fails ErrRefreshExpired; redeeming the same value again then fails
// ErrRefreshInvalid because the record is gone.
func (s *TokenService) RedeemRefreshToken(ctx context.Context, raw string) (string, string, error) {
	if raw == "" {
		return "", "", ErrRefreshInvalid
	}

	oldHash := hashToken(raw)
	record, err := s.store.GetRefreshToken(ctx, oldHash)
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) {
			return "", "", ErrRefreshInvalid
		}
		return "", "", err
	}

	if record.RevokedAt != nil {
		return "", "", ErrRefreshInvalid
	}

	if !time.Now().UTC().Before(record.ExpiresAt) {
		if err := s.store.DeleteRefreshToken(ctx, oldHash); err != nil {
			return "", "", err
		}
		return "", "", ErrRefreshExpired
	}

	newRaw, err := randomToken(32)
	if err != nil {
		return "", "", fmt.Errorf("generate rotated refresh token: %w", err)
	}

	if err := s.store.ReplaceRefreshToken(ctx, oldHash, hashToken(newRaw), time.Now().UTC().Add(s.refreshTTL)); err != nil {
		return "", "", err
	}

	return record.UserID, newRaw, nil
}

func (s *TokenService) RevokeRefreshToken(ctx context.Context, raw string) error {
	return s.store.RevokeRefreshToken(ctx, hashToken(raw))
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(raw string) string {
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:])
}

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(store RefreshTokenStore) *TokenService {
	return NewTokenService(store, "test-secret", 15*time.Minute, 15*time.Minute, 7*24*time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestTokenService(newFakeRefreshStore())
	user := User{ID: "user-1", Username: "mario", Role: RoleUser}

	raw, err := svc.IssueAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "mario", claims.Username)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestTokenScopesAreNotInterchangeable(t *testing.T) {
	svc := newTestTokenService(newFakeRefreshStore())
	user := User{ID: "user-1", Username: "mario", Role: RoleUser}

	access, err := svc.IssueAccessToken(user)
	require.NoError(t, err)
	reset, err := svc.IssueResetToken(user)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(reset)
	assert.ErrorIs(t, err, ErrTokenInvalid, "reset token must not be accepted as an access token")

	_, err = svc.ValidateResetToken(access)
	assert.ErrorIs(t, err, ErrTokenInvalid, "access token must not be accepted as a reset token")
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	svc := NewTokenService(newFakeRefreshStore(), "test-secret", -time.Minute, 15*time.Minute, time.Hour)

	raw, err := svc.IssueAccessToken(User{ID: "user-1", Role: RoleUser})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(raw)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAccessTokenWrongSecretRejected(t *testing.T) {
	issuer := newTestTokenService(newFakeRefreshStore())
	verifier := NewTokenService(newFakeRefreshStore(), "other-secret", 15*time.Minute, 15*time.Minute, time.Hour)

	raw, err := issuer.IssueAccessToken(User{ID: "user-1", Role: RoleUser})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(raw)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = verifier.ValidateAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshTokenRotation(t *testing.T) {
	ctx := context.Background()
	store := newFakeRefreshStore()
	svc := newTestTokenService(store)

	raw, err := svc.IssueRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	userID, rotated, err := svc.RedeemRefreshToken(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.NotEqual(t, raw, rotated, "redeem must rotate the value")

	// The spent value is revoked and cannot be replayed.
	_, _, err = svc.RedeemRefreshToken(ctx, raw)
	assert.ErrorIs(t, err, ErrRefreshInvalid)

	// The rotated value keeps working.
	userID, _, err = svc.RedeemRefreshToken(ctx, rotated)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestExpiredRefreshTokenDeletedThenInvalid(t *testing.T) {
	ctx := context.Background()
	store := newFakeRefreshStore()
	svc := newTestTokenService(store)

	raw, err := svc.IssueRefreshToken(ctx, "user-1")
	require.NoError(t, err)

	store.expire(hashToken(raw))

	_, _, err = svc.RedeemRefreshToken(ctx, raw)
	assert.ErrorIs(t, err, ErrRefreshExpired)

	// The expired record was deleted, so the same value is now unknown.
	_, _, err = svc.RedeemRefreshToken(ctx, raw)
	assert.ErrorIs(t, err, ErrRefreshInvalid)
}

func TestUnknownRefreshTokenInvalid(t *testing.T) {
	svc := newTestTokenService(newFakeRefreshStore())

	_, _, err := svc.RedeemRefreshToken(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrRefreshInvalid)

	_, _, err = svc.RedeemRefreshToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrRefreshInvalid)
}

func TestRevokedRefreshTokenInvalid(t *testing.T) {
	ctx := context.Background()
	store := newFakeRefreshStore()
	svc := newTestTokenService(store)

	raw, err := svc.IssueRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.RevokeRefreshToken(ctx, raw))

	_, _, err = svc.RedeemRefreshToken(ctx, raw)
	assert.ErrorIs(t, err, ErrRefreshInvalid)
}

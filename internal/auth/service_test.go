package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var otpCodePattern = regexp.MustCompile(`[0-9]{6}`)

func newTestService(t *testing.T) (*Service, *fakeUserStore, *fakeSender) {
	t.Helper()
	users := newFakeUserStore()
	mailer := &fakeSender{}
	tokens := newTestTokenService(newFakeRefreshStore())
	otp := newTestOtpService(newFakeOtpStore())
	svc := NewService(users, tokens, otp, mailer, "https://nestgame.example")
	return svc, users, mailer
}

func TestRegisterLoginRefreshChangePasswordFlow(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	registered, err := svc.Register(ctx, "mario", "mario@example.com", "let-me-in-123")
	require.NoError(t, err)
	assert.NotEmpty(t, registered.AccessToken)
	assert.NotEmpty(t, registered.RefreshToken)
	assert.Equal(t, "Bearer", registered.TokenType)
	assert.Equal(t, "mario", registered.User.Username)
	assert.Equal(t, RoleUser, registered.User.Role)

	loggedIn, err := svc.Login(ctx, "mario", "let-me-in-123")
	require.NoError(t, err)

	// Login works by email too.
	_, err = svc.Login(ctx, "mario@example.com", "let-me-in-123")
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, loggedIn.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, loggedIn.RefreshToken, refreshed.RefreshToken, "refresh must rotate")
	assert.Equal(t, registered.User.ID, refreshed.User.ID)

	err = svc.ChangePassword(ctx, registered.User.ID, "let-me-in-123", "new-password-456", "new-password-456")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "mario", "new-password-456")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "mario", "let-me-in-123")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "old password must stop working")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Register(ctx, "mario", "mario@example.com", "let-me-in-123")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "mario", "other@example.com", "let-me-in-123")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.Register(ctx, "luigi", "mario@example.com", "let-me-in-123")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginFailuresAreOpaque(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Register(ctx, "mario", "mario@example.com", "let-me-in-123")
	require.NoError(t, err)

	_, unknownErr := svc.Login(ctx, "no-such-user", "let-me-in-123")
	_, wrongPwErr := svc.Login(ctx, "mario", "wrong-password")

	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongPwErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr, wrongPwErr, "unknown user and wrong password must be indistinguishable")
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := newTestService(t)

	result, err := svc.Register(ctx, "mario", "mario@example.com", "let-me-in-123")
	require.NoError(t, err)

	user, err := users.GetUserByID(ctx, result.User.ID)
	require.NoError(t, err)
	user.Active = false
	require.NoError(t, users.CreateUser(ctx, user))

	_, err = svc.Login(ctx, "mario", "let-me-in-123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePasswordValidations(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	result, err := svc.Register(ctx, "mario", "mario@example.com", "let-me-in-123")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, result.User.ID, "wrong-current", "new-password-456", "new-password-456")
	assert.ErrorIs(t, err, ErrCurrentPasswordWrong)

	err = svc.ChangePassword(ctx, result.User.ID, "let-me-in-123", "new-password-456", "different-789")
	assert.ErrorIs(t, err, ErrPasswordConfirmation)

	// Neither failure may have changed the password.
	_, err = svc.Login(ctx, "mario", "let-me-in-123")
	require.NoError(t, err)
}

func TestOtpResetFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, _, mailer := newTestService(t)

	_, err := svc.Register(ctx, "mario", "mario@example.com", "let-me-in-123")
	require.NoError(t, err)

	expiresAt, err := svc.SendOtp(ctx, "mario@example.com")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now().UTC()))

	email := mailer.last()
	require.Equal(t, "mario@example.com", email.To)
	code := otpCodePattern.FindString(email.Body)
	require.NotEmpty(t, code, "delivery email must carry the code")

	// Reset before verification is rejected.
	err = svc.ResetPasswordWithOtp(ctx, "mario@example.com", "new-password-456")
	assert.ErrorIs(t, err, ErrOtpNotVerified)

	require.NoError(t, svc.VerifyOtp(ctx, "mario@example.com", code))
	require.NoError(t, svc.ResetPasswordWithOtp(ctx, "mario@example.com", "new-password-456"))

	_, err = svc.Login(ctx, "mario", "new-password-456")
	require.NoError(t, err)

	// The verification proof was consumed by the reset.
	err = svc.ResetPasswordWithOtp(ctx, "mario@example.com", "yet-another-789")
	assert.ErrorIs(t, err, ErrOtpNotVerified)
}

func TestSendOtpUnknownEmail(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SendOtp(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrEmailNotFound)
}

func TestSendOtpEmailDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, mailer := newTestService(t)

	_, err := svc.Register(ctx, "mario", "mario@example.com", "let-me-in-123")
	require.NoError(t, err)

	mailer.err = errors.New("ses unavailable")
	_, err = svc.SendOtp(ctx, "mario@example.com")
	assert.ErrorIs(t, err, ErrEmailDelivery)
}

func TestResetLinkFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, _, mailer := newTestService(t)

	_, err := svc.Register(ctx, "mario", "mario@example.com", "let-me-in-123")
	require.NoError(t, err)

	require.NoError(t, svc.RequestPasswordReset(ctx, "mario@example.com"))

	email := mailer.last()
	match := regexp.MustCompile(`token=([A-Za-z0-9_.-]+)`).FindStringSubmatch(email.Body)
	require.Len(t, match, 2, "delivery email must carry the reset link")

	require.NoError(t, svc.ResetPasswordWithToken(ctx, match[1], "new-password-456"))

	_, err = svc.Login(ctx, "mario", "new-password-456")
	require.NoError(t, err)
}

func TestResetPasswordRejectsAccessTokenAsResetToken(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	result, err := svc.Register(ctx, "mario", "mario@example.com", "let-me-in-123")
	require.NoError(t, err)

	err = svc.ResetPasswordWithToken(ctx, result.AccessToken, "new-password-456")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

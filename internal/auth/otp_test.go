package auth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otpTestEmail = "player@example.com"

func newTestOtpService(store OtpChallengeStore) *OtpService {
	return NewOtpService(store, 5*time.Minute, 3)
}

func TestOtpCreateReturnsSixDigitCode(t *testing.T) {
	svc := newTestOtpService(newFakeOtpStore())

	code, expiresAt, err := svc.Create(context.Background(), otpTestEmail)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), code)
	assert.True(t, expiresAt.After(time.Now().UTC()))
}

func TestOtpCreateReplacesPriorChallenges(t *testing.T) {
	ctx := context.Background()
	store := newFakeOtpStore()
	svc := newTestOtpService(store)

	oldCode, _, err := svc.Create(ctx, otpTestEmail)
	require.NoError(t, err)
	_, _, err = svc.Create(ctx, otpTestEmail)
	require.NoError(t, err)

	assert.Equal(t, 1, store.count(), "only one active challenge per email")

	// The replaced code is useless even when it happens to differ.
	err = svc.Verify(ctx, otpTestEmail, oldCode)
	assert.Error(t, err)
}

func TestOtpVerifySucceedsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeOtpStore()
	svc := newTestOtpService(store)

	code, _, err := svc.Create(ctx, otpTestEmail)
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, otpTestEmail, code))

	// The challenge is now verified; a second verify finds no unverified one.
	err = svc.Verify(ctx, otpTestEmail, code)
	assert.ErrorIs(t, err, ErrOtpNotFound)
}

func TestOtpVerifyMismatchCountsDown(t *testing.T) {
	ctx := context.Background()
	svc := newTestOtpService(newFakeOtpStore())

	code, _, err := svc.Create(ctx, otpTestEmail)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	err = svc.Verify(ctx, otpTestEmail, wrong)
	var mismatch *OtpMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.Remaining)

	err = svc.Verify(ctx, otpTestEmail, wrong)
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 1, mismatch.Remaining)

	// The correct code still works while attempts remain.
	assert.NoError(t, svc.Verify(ctx, otpTestEmail, code))
}

func TestOtpAttemptsExhaustionIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := newFakeOtpStore()
	svc := newTestOtpService(store)

	code, _, err := svc.Create(ctx, otpTestEmail)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 3; i++ {
		err = svc.Verify(ctx, otpTestEmail, wrong)
		var mismatch *OtpMismatchError
		require.ErrorAs(t, err, &mismatch)
	}

	// Even the correct code fails once the cap is hit, and the challenge is
	// destroyed in the process.
	err = svc.Verify(ctx, otpTestEmail, code)
	assert.ErrorIs(t, err, ErrOtpExhausted)
	assert.Equal(t, 0, store.count())

	err = svc.Verify(ctx, otpTestEmail, code)
	assert.ErrorIs(t, err, ErrOtpNotFound)
}

func TestOtpExpiryWinsOverCorrectCode(t *testing.T) {
	ctx := context.Background()
	store := newFakeOtpStore()
	svc := newTestOtpService(store)

	code, _, err := svc.Create(ctx, otpTestEmail)
	require.NoError(t, err)

	store.expire(otpTestEmail)

	err = svc.Verify(ctx, otpTestEmail, code)
	assert.ErrorIs(t, err, ErrOtpExpired)
	assert.Equal(t, 0, store.count(), "expired challenge must be destroyed")
}

func TestOtpConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := newFakeOtpStore()
	svc := newTestOtpService(store)

	code, _, err := svc.Create(ctx, otpTestEmail)
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, otpTestEmail, code))

	verified, err := svc.IsVerified(ctx, otpTestEmail)
	require.NoError(t, err)
	assert.True(t, verified)

	require.NoError(t, svc.Consume(ctx, otpTestEmail))

	// The proof is spent: a second consume and the verified flag are gone.
	assert.ErrorIs(t, svc.Consume(ctx, otpTestEmail), ErrOtpNotVerified)
	verified, err = svc.IsVerified(ctx, otpTestEmail)
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestOtpConsumeWithoutVerification(t *testing.T) {
	ctx := context.Background()
	svc := newTestOtpService(newFakeOtpStore())

	_, _, err := svc.Create(ctx, otpTestEmail)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Consume(ctx, otpTestEmail), ErrOtpNotVerified)
}

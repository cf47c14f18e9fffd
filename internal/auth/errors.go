package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailNotFound      = errors.New("no account with this email")

	ErrRefreshInvalid = errors.New("invalid refresh token")
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrTokenInvalid   = errors.New("invalid or expired token")

	ErrOtpNotFound    = errors.New("otp challenge not found")
	ErrOtpExpired     = errors.New("otp code expired")
	ErrOtpExhausted   = errors.New("otp attempts exhausted")
	ErrOtpNotVerified = errors.New("otp not verified")

	ErrCurrentPasswordWrong = errors.New("current password does not match")
	ErrPasswordConfirmation = errors.New("password confirmation does not match")

	// ErrEmailDelivery marks failures of the outbound email collaborator; the
	// HTTP layer surfaces these as 502, never silently.
	ErrEmailDelivery = errors.New("email delivery failed")
)

// OtpMismatchError reports a wrong code together with the attempts the caller
// has left before the challenge is destroyed.
type OtpMismatchError struct {
	Remaining int
}

func (e *OtpMismatchError) Error() string {
	return fmt.Sprintf("otp code mismatch, %d attempts remaining", e.Remaining)
}

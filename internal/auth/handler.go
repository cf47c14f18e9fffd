package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	otpCodeRegex  = regexp.MustCompile(`^[0-9]{6}$`)
)

const maxJSONBodyBytes = 1 << 20

// bcrypt truncates beyond 72 bytes, so longer passwords are rejected up front.
const (
	minPasswordLen = 8
	maxPasswordLen = 72
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword      string `json:"current_password"`
	NewPassword          string `json:"new_password"`
	ConfirmationPassword string `json:"confirmation_password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type verifyOtpRequest struct {
	Email   string `json:"email"`
	OtpCode string `json:"otp_code"`
}

type resetPasswordRequest struct {
	Token       string `json:"token,omitempty"`
	Email       string `json:"email,omitempty"`
	NewPassword string `json:"new_password"`
}

type otpResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username must be 3-32 characters: letters, digits, underscore")
		return
	}
	if !emailRegex.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if !validPassword(body.Password) {
		writeError(w, http.StatusBadRequest, "password must be 8-72 characters")
		return
	}

	result, err := h.service.Register(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Login(r.Context(), body.Login, body.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	result, err := h.service.Refresh(r.Context(), strings.TrimSpace(body.RefreshToken))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := h.service.Logout(r.Context(), strings.TrimSpace(body.RefreshToken)); err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if !validPassword(body.NewPassword) {
		writeError(w, http.StatusBadRequest, "password must be 8-72 characters")
		return
	}

	err := h.service.ChangePassword(r.Context(), principal.UserID, body.CurrentPassword, body.NewPassword, body.ConfirmationPassword)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully."})
}

// ForgotPassword starts the OTP reset flow.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if !emailRegex.MatchString(strings.TrimSpace(body.Email)) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	expiresAt, err := h.service.SendOtp(r.Context(), body.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, otpResponse{
		Success:   true,
		Message:   "An OTP code has been sent to your email.",
		ExpiresAt: &expiresAt,
	})
}

// RequestPasswordReset starts the link reset flow.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if !emailRegex.MatchString(strings.TrimSpace(body.Email)) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), body.Email); err != nil {
		respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "A password reset link has been sent to your email."})
}

func (h *Handler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	var body verifyOtpRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if !otpCodeRegex.MatchString(strings.TrimSpace(body.OtpCode)) {
		writeError(w, http.StatusBadRequest, "OTP code must be 6 digits")
		return
	}

	if err := h.service.VerifyOtp(r.Context(), body.Email, strings.TrimSpace(body.OtpCode)); err != nil {
		respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, otpResponse{Success: true, Message: "OTP verified successfully."})
}

// ResetPassword commits a new password. With a token in the body it is the
// link flow; with an email it is the OTP flow and requires prior verification.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if !validPassword(body.NewPassword) {
		writeError(w, http.StatusBadRequest, "password must be 8-72 characters")
		return
	}

	var err error
	switch {
	case strings.TrimSpace(body.Token) != "":
		err = h.service.ResetPasswordWithToken(r.Context(), strings.TrimSpace(body.Token), body.NewPassword)
	case strings.TrimSpace(body.Email) != "":
		err = h.service.ResetPasswordWithOtp(r.Context(), body.Email, body.NewPassword)
	default:
		writeError(w, http.StatusBadRequest, "either token or email is required")
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, otpResponse{Success: true, Message: "Password reset successfully. You can now login with your new password."})
}

func validPassword(password string) bool {
	return len(password) >= minPasswordLen && len(password) <= maxPasswordLen
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func respondServiceError(w http.ResponseWriter, err error) {
	var mismatch *OtpMismatchError
	switch {
	case errors.Is(err, ErrUsernameTaken):
		writeError(w, http.StatusConflict, "Username already exists.")
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, "Email already exists.")
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid login or password.")
	case errors.Is(err, ErrRefreshExpired):
		writeError(w, http.StatusUnauthorized, "Your session has expired. Please login again.")
	case errors.Is(err, ErrRefreshInvalid):
		writeError(w, http.StatusUnauthorized, "Invalid refresh token. Please login again.")
	case errors.Is(err, ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
	case errors.Is(err, ErrEmailNotFound):
		writeError(w, http.StatusNotFound, "No account found with this email.")
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found.")
	case errors.Is(err, ErrOtpNotFound):
		writeError(w, http.StatusNotFound, "No OTP code found. Please request a new one.")
	case errors.Is(err, ErrOtpExpired):
		writeError(w, http.StatusBadRequest, "OTP code has expired. Please request a new one.")
	case errors.Is(err, ErrOtpExhausted):
		writeError(w, http.StatusUnauthorized, "Too many wrong attempts. Please request a new OTP code.")
	case errors.As(err, &mismatch):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Incorrect OTP code. %d attempts remaining.", mismatch.Remaining))
	case errors.Is(err, ErrOtpNotVerified):
		writeError(w, http.StatusUnauthorized, "OTP has not been verified. Please verify the code first.")
	case errors.Is(err, ErrCurrentPasswordWrong):
		writeError(w, http.StatusBadRequest, "Current password is incorrect.")
	case errors.Is(err, ErrPasswordConfirmation):
		writeError(w, http.StatusBadRequest, "New passwords do not match.")
	case errors.Is(err, ErrEmailDelivery):
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "Failed to send email. Please try again later.")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

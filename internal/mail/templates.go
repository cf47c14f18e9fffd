package mail

import (
	"fmt"
	"html"
	"time"
)

// OtpEmail builds the password-reset OTP message. The plaintext code appears
// only here, on its way out.
func OtpEmail(username, code string, ttl time.Duration) (string, string) {
	subject := "NestGame - Your password reset code"
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:24px;font-family:-apple-system,'Segoe UI',sans-serif;background:#0a0f1e;color:#e2e8f0;">
  <div style="max-width:600px;margin:0 auto;background:#111928;border-radius:16px;padding:32px;">
    <h1 style="margin:0 0 16px;color:#06b6d4;">NestGame</h1>
    <p>Hi <strong>%s</strong>,</p>
    <p>Use this code to reset your password:</p>
    <p style="font-size:32px;letter-spacing:8px;font-weight:700;color:#06b6d4;">%s</p>
    <p>The code expires in %d minutes. If you did not request a reset, you can ignore this email.</p>
  </div>
</body>
</html>`, html.EscapeString(username), html.EscapeString(code), int(ttl.Minutes()))

	return subject, body
}

// PasswordResetEmail builds the link-variant reset message.
func PasswordResetEmail(username, link string) (string, string) {
	subject := "NestGame - Reset your password"
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:24px;font-family:-apple-system,'Segoe UI',sans-serif;background:#0a0f1e;color:#e2e8f0;">
  <div style="max-width:600px;margin:0 auto;background:#111928;border-radius:16px;padding:32px;">
    <h1 style="margin:0 0 16px;color:#06b6d4;">NestGame</h1>
    <p>Hi <strong>%s</strong>,</p>
    <p>We received a request to reset your password. Click the button below to choose a new one:</p>
    <p style="margin:24px 0;">
      <a href="%s" style="background:#06b6d4;color:#0a0f1e;padding:12px 24px;border-radius:8px;text-decoration:none;font-weight:700;">Reset password</a>
    </p>
    <p>If you did not request a reset, you can ignore this email.</p>
  </div>
</body>
</html>`, html.EscapeString(username), link)

	return subject, body
}

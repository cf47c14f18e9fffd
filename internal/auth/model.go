package auth

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	AvatarURL    string
	Bio          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the caller-visible projection of a user.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		AvatarURL: u.AvatarURL,
		Bio:       u.Bio,
	}
}

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int64   `json:"expires_in"`
	User         Profile `json:"user"`
}

type RefreshTokenRecord struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// OtpChallenge is a pending one-time passcode for a password reset. CodeHash
// is a bcrypt digest; the plaintext code exists only in the delivery email.
type OtpChallenge struct {
	ID          string
	Email       string
	CodeHash    string
	ExpiresAt   time.Time
	Verified    bool
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
}

// Principal is the authenticated caller identity threaded through request
// contexts. Handlers receive it fully typed instead of re-parsing claims.
type Principal struct {
	UserID   string
	Username string
	Role     string
}

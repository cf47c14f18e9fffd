package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the Postgres-backed implementation of UserStore,
// RefreshTokenStore and OtpChallengeStore.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, username, email, password_hash, role, is_active, avatar_url, bio, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.Active, &user.AvatarURL, &user.Bio,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func (r *Repository) CreateUser(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, is_active, avatar_url, bio, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.Active,
		user.AvatarURL, user.Bio, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id))
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = $1
	`, email))
}

func (r *Repository) GetUserByLogin(ctx context.Context, login string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1
	`, login))
}

func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)
	`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)
	`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, userID, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate refresh token id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), userID, tokenHash, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *Repository) GetRefreshToken(ctx context.Context, tokenHash string) (RefreshTokenRecord, error) {
	var record RefreshTokenRecord
	var revokedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, created_at
		FROM auth_refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&record.ID, &record.UserID, &record.TokenHash, &record.ExpiresAt, &revokedAt, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshTokenRecord{}, ErrRefreshInvalid
		}
		return RefreshTokenRecord{}, fmt.Errorf("query refresh token: %w", err)
	}
	if revokedAt.Valid {
		value := revokedAt.Time.UTC()
		record.RevokedAt = &value
	}
	return record, nil
}

func (r *Repository) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_refresh_tokens WHERE token_hash = $1
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// ReplaceRefreshToken rotates a refresh token in one transaction: the old row
// is revoked with a pointer to its replacement, the new row inserted. The row
// lock keeps two concurrent redeems of the same value from both succeeding.
func (r *Repository) ReplaceRefreshToken(ctx context.Context, oldHash, newHash string, expiresAt time.Time) error {
	newID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate rotated token id: %w", err)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh rotation tx: %w", err)
	}
	defer tx.Rollback()

	var oldID, userID string
	var revokedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, revoked_at
		FROM auth_refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, oldHash).Scan(&oldID, &userID, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRefreshInvalid
		}
		return fmt.Errorf("lock refresh token row: %w", err)
	}
	if revokedAt.Valid {
		return ErrRefreshInvalid
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, newID.String(), userID, newHash, expiresAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("insert rotated refresh token: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = $2, replaced_by = $3
		WHERE id = $1
	`, oldID, now, newID.String())
	if err != nil {
		return fmt.Errorf("revoke old refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh rotation tx: %w", err)
	}
	return nil
}

func (r *Repository) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
	`, tokenHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *Repository) CreateChallenge(ctx context.Context, challenge OtpChallenge) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate otp challenge id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO password_reset_otps (id, email, code_hash, expires_at, verified, attempts, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id.String(), challenge.Email, challenge.CodeHash, challenge.ExpiresAt.UTC(),
		challenge.Verified, challenge.Attempts, challenge.MaxAttempts, challenge.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert otp challenge: %w", err)
	}
	return nil
}

func (r *Repository) LatestChallenge(ctx context.Context, email string, verified bool) (OtpChallenge, error) {
	var challenge OtpChallenge
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, code_hash, expires_at, verified, attempts, max_attempts, created_at
		FROM password_reset_otps
		WHERE email = $1 AND verified = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, email, verified).Scan(
		&challenge.ID, &challenge.Email, &challenge.CodeHash, &challenge.ExpiresAt,
		&challenge.Verified, &challenge.Attempts, &challenge.MaxAttempts, &challenge.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OtpChallenge{}, ErrOtpNotFound
		}
		return OtpChallenge{}, fmt.Errorf("query otp challenge: %w", err)
	}
	return challenge, nil
}

func (r *Repository) SaveChallenge(ctx context.Context, challenge OtpChallenge) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE password_reset_otps
		SET verified = $2, attempts = $3
		WHERE id = $1
	`, challenge.ID, challenge.Verified, challenge.Attempts)
	if err != nil {
		return fmt.Errorf("update otp challenge: %w", err)
	}
	return nil
}

func (r *Repository) DeleteChallenge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM password_reset_otps WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete otp challenge: %w", err)
	}
	return nil
}

func (r *Repository) DeleteChallengesByEmail(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM password_reset_otps WHERE email = $1
	`, email)
	if err != nil {
		return fmt.Errorf("delete otp challenges for email: %w", err)
	}
	return nil
}

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	DeletedOtpChallenges int64 `json:"deleted_otp_challenges"`
}

// CleanupExpiredCredentials removes refresh tokens and OTP challenges whose
// expiry has elapsed. Expiry is always re-checked on access, so this sweep
// only bounds storage growth.
func (r *Repository) CleanupExpiredCredentials(ctx context.Context, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	deletedTokens, err := r.cleanupBatch(ctx, `
		WITH stale AS (
			SELECT id FROM auth_refresh_tokens
			WHERE expires_at < NOW() OR revoked_at IS NOT NULL
			ORDER BY created_at ASC
			LIMIT $1
		)
		DELETE FROM auth_refresh_tokens t USING stale WHERE t.id = stale.id
	`, batchSize)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete stale refresh tokens: %w", err)
	}

	deletedChallenges, err := r.cleanupBatch(ctx, `
		WITH stale AS (
			SELECT id FROM password_reset_otps
			WHERE expires_at < NOW()
			ORDER BY created_at ASC
			LIMIT $1
		)
		DELETE FROM password_reset_otps t USING stale WHERE t.id = stale.id
	`, batchSize)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete stale otp challenges: %w", err)
	}

	return CleanupResult{
		DeletedRefreshTokens: deletedTokens,
		DeletedOtpChallenges: deletedChallenges,
	}, nil
}

func (r *Repository) cleanupBatch(ctx context.Context, query string, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, batchSize)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

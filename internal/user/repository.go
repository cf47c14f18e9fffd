package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("user not found")

type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, role, avatar_url, bio, created_at
		FROM users WHERE id = $1
	`, id).Scan(&p.ID, &p.Username, &p.Email, &p.Role, &p.AvatarURL, &p.Bio, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

func (r *Repository) UpdateBio(ctx context.Context, id, bio string) error {
	return r.updateColumn(ctx, id, "bio", bio)
}

func (r *Repository) UpdateAvatar(ctx context.Context, id, avatarURL string) error {
	return r.updateColumn(ctx, id, "avatar_url", avatarURL)
}

func (r *Repository) updateColumn(ctx context.Context, id, column, value string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET `+column+` = $2, updated_at = $3 WHERE id = $1`,
		id, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s rows affected: %w", column, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

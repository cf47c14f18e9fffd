package game

import (
	"errors"
	"time"
)

var (
	ErrGameNotFound     = errors.New("game not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCommentNotFound  = errors.New("comment not found")
)

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

type Game struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CategoryID   string    `json:"category_id"`
	CategoryName string    `json:"category_name,omitempty"`
	Description  string    `json:"description,omitempty"`
	Year         int       `json:"year,omitempty"`
	Region       string    `json:"region,omitempty"`
	Featured     bool      `json:"featured"`
	ImageURL     string    `json:"image_url,omitempty"`
	PlayCount    int64     `json:"play_count"`
	AvgRating    float64   `json:"avg_rating"`
	RatingCount  int64     `json:"rating_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type GameInput struct {
	Name        string `json:"name"`
	CategoryID  string `json:"category_id"`
	Description string `json:"description"`
	Year        int    `json:"year"`
	Region      string `json:"region"`
	Featured    bool   `json:"featured"`
	ImageURL    string `json:"image_url"`
}

// ListFilter narrows the catalog listing. Nil fields mean no constraint.
type ListFilter struct {
	CategorySlug string
	Featured     *bool
}

type Comment struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type PlayRecord struct {
	GameID   string    `json:"game_id"`
	GameName string    `json:"game_name"`
	PlayedAt time.Time `json:"played_at"`
}

type LeaderboardEntry struct {
	GameID    string `json:"game_id"`
	Name      string `json:"name"`
	PlayCount int64  `json:"play_count"`
}

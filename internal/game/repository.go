package game

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const gameColumns = `
	g.id, g.name, g.category_id, c.name, g.description, g.year, g.region,
	g.featured, g.image_url, g.play_count,
	COALESCE(r.avg_rating, 0), COALESCE(r.rating_count, 0),
	g.created_at, g.updated_at`

const gameJoins = `
	FROM games g
	JOIN categories c ON c.id = g.category_id
	LEFT JOIN (
		SELECT game_id, AVG(value)::float8 AS avg_rating, COUNT(*) AS rating_count
		FROM game_ratings GROUP BY game_id
	) r ON r.game_id = g.id`

func scanGame(scanner interface{ Scan(...any) error }) (Game, error) {
	var g Game
	err := scanner.Scan(
		&g.ID, &g.Name, &g.CategoryID, &g.CategoryName, &g.Description, &g.Year,
		&g.Region, &g.Featured, &g.ImageURL, &g.PlayCount,
		&g.AvgRating, &g.RatingCount, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return Game{}, err
	}
	return g, nil
}

func (r *Repository) ListGames(ctx context.Context, filter ListFilter) ([]Game, error) {
	query := `SELECT ` + gameColumns + gameJoins
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if filter.CategorySlug != "" {
		args = append(args, filter.CategorySlug)
		conditions = append(conditions, fmt.Sprintf("c.slug = $%d", len(args)))
	}
	if filter.Featured != nil {
		args = append(args, *filter.Featured)
		conditions = append(conditions, fmt.Sprintf("g.featured = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += "\n\tWHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n\tORDER BY g.created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	games := make([]Game, 0)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate games: %w", err)
	}

	return games, nil
}

func (r *Repository) GetGame(ctx context.Context, id string) (Game, error) {
	g, err := scanGame(r.db.QueryRowContext(ctx, `SELECT `+gameColumns+gameJoins+` WHERE g.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Game{}, ErrGameNotFound
		}
		return Game{}, fmt.Errorf("query game: %w", err)
	}
	return g, nil
}

func (r *Repository) CreateGame(ctx context.Context, input GameInput) (Game, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Game{}, fmt.Errorf("generate game id: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO games (id, name, category_id, description, year, region, featured, image_url, play_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
	`, id.String(), input.Name, input.CategoryID, input.Description, input.Year,
		input.Region, input.Featured, input.ImageURL, now)
	if err != nil {
		return Game{}, fmt.Errorf("insert game: %w", err)
	}

	return r.GetGame(ctx, id.String())
}

func (r *Repository) UpdateGame(ctx context.Context, id string, input GameInput) (Game, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE games
		SET name = $2, category_id = $3, description = $4, year = $5, region = $6,
		    featured = $7, image_url = $8, updated_at = $9
		WHERE id = $1
	`, id, input.Name, input.CategoryID, input.Description, input.Year,
		input.Region, input.Featured, input.ImageURL, time.Now().UTC())
	if err != nil {
		return Game{}, fmt.Errorf("update game: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Game{}, fmt.Errorf("update game rows affected: %w", err)
	}
	if affected == 0 {
		return Game{}, ErrGameNotFound
	}

	return r.GetGame(ctx, id)
}

func (r *Repository) DeleteGame(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete game rows affected: %w", err)
	}
	if affected == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, slug, created_at FROM categories ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}

	return categories, nil
}

func (r *Repository) CreateCategory(ctx context.Context, name, slug string) (Category, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Category{}, fmt.Errorf("generate category id: %w", err)
	}

	c := Category{ID: id.String(), Name: name, Slug: slug, CreatedAt: time.Now().UTC()}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, slug, created_at)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.Name, c.Slug, c.CreatedAt)
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}

	return c, nil
}

func (r *Repository) CategoryExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check category exists: %w", err)
	}
	return exists, nil
}

// AddFavorite is idempotent: favoriting a game twice is not an error.
func (r *Repository) AddFavorite(ctx context.Context, userID, gameID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO game_favorites (user_id, game_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, game_id) DO NOTHING
	`, userID, gameID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert favorite: %w", err)
	}
	return nil
}

func (r *Repository) RemoveFavorite(ctx context.Context, userID, gameID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM game_favorites WHERE user_id = $1 AND game_id = $2
	`, userID, gameID)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	return nil
}

func (r *Repository) ListFavorites(ctx context.Context, userID string) ([]Game, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+gameColumns+gameJoins+`
		JOIN game_favorites f ON f.game_id = g.id
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer rows.Close()

	games := make([]Game, 0)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan favorite game: %w", err)
		}
		games = append(games, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}

	return games, nil
}

func (r *Repository) AddComment(ctx context.Context, gameID, userID, content string) (Comment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Comment{}, fmt.Errorf("generate comment id: %w", err)
	}

	comment := Comment{
		ID:        id.String(),
		GameID:    gameID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO game_comments (id, game_id, user_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING (SELECT username FROM users WHERE id = $3)
	`, comment.ID, comment.GameID, comment.UserID, comment.Content, comment.CreatedAt).
		Scan(&comment.Username)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	return comment, nil
}

func (r *Repository) ListComments(ctx context.Context, gameID string) ([]Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cm.id, cm.game_id, cm.user_id, u.username, cm.content, cm.created_at
		FROM game_comments cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.game_id = $1
		ORDER BY cm.created_at DESC
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.GameID, &c.UserID, &c.Username, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	return comments, nil
}

// DeleteComment only removes the caller's own comment.
func (r *Repository) DeleteComment(ctx context.Context, commentID, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM game_comments WHERE id = $1 AND user_id = $2
	`, commentID, userID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCommentNotFound
	}
	return nil
}

// UpsertRating stores one rating per user per game, overwriting on repeat.
func (r *Repository) UpsertRating(ctx context.Context, gameID, userID string, value int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO game_ratings (game_id, user_id, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id, user_id) DO UPDATE SET value = $3, updated_at = $4
	`, gameID, userID, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

// RecordPlay appends to the play history and bumps the game's play count in
// one transaction.
func (r *Repository) RecordPlay(ctx context.Context, gameID, userID string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate play id: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin play tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE games SET play_count = play_count + 1 WHERE id = $1
	`, gameID)
	if err != nil {
		return fmt.Errorf("bump play count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump play count rows affected: %w", err)
	}
	if affected == 0 {
		return ErrGameNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO play_history (id, game_id, user_id, played_at)
		VALUES ($1, $2, $3, $4)
	`, id.String(), gameID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert play record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit play tx: %w", err)
	}
	return nil
}

func (r *Repository) ListPlayHistory(ctx context.Context, userID string, limit int) ([]PlayRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT p.game_id, g.name, p.played_at
		FROM play_history p
		JOIN games g ON g.id = p.game_id
		WHERE p.user_id = $1
		ORDER BY p.played_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query play history: %w", err)
	}
	defer rows.Close()

	records := make([]PlayRecord, 0)
	for rows.Next() {
		var p PlayRecord
		if err := rows.Scan(&p.GameID, &p.GameName, &p.PlayedAt); err != nil {
			return nil, fmt.Errorf("scan play record: %w", err)
		}
		records = append(records, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate play history: %w", err)
	}

	return records, nil
}

func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, play_count
		FROM games
		ORDER BY play_count DESC, name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]LeaderboardEntry, 0)
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.GameID, &e.Name, &e.PlayCount); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}

	return entries, nil
}

package game

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"nestgame-backend/internal/auth"
	"nestgame-backend/internal/media"
)

var allowedURLChars = regexp.MustCompile(`^[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+$`)
var allowedHost = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

const maxJSONBodyBytes = 1 << 20

const (
	minReleaseYear = 1950
	maxCommentLen  = 500
)

type Handler struct {
	repo     *Repository
	uploader media.ImageUploader
}

func NewHandler(repo *Repository, uploader media.ImageUploader) *Handler {
	return &Handler{repo: repo, uploader: uploader}
}

func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{CategorySlug: strings.TrimSpace(r.URL.Query().Get("category"))}
	if raw := r.URL.Query().Get("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "featured must be true or false")
			return
		}
		filter.Featured = &featured
	}

	games, err := h.repo.ListGames(r.Context(), filter)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list games")
		return
	}

	writeJSON(w, http.StatusOK, games)
}

func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid game id")
	if !ok {
		return
	}

	g, err := h.repo.GetGame(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrGameNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load game")
		return
	}

	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	input, ok := h.parseGameInput(w, r)
	if !ok {
		return
	}

	g, err := h.repo.CreateGame(r.Context(), input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create game")
		return
	}

	writeJSON(w, http.StatusCreated, g)
}

func (h *Handler) UpdateGame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid game id")
	if !ok {
		return
	}

	input, ok := h.parseGameInput(w, r)
	if !ok {
		return
	}

	g, err := h.repo.UpdateGame(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, ErrGameNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update game")
		return
	}

	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) DeleteGame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid game id")
	if !ok {
		return
	}

	if err := h.repo.DeleteGame(r.Context(), id); err != nil {
		if errors.Is(err, ErrGameNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete game")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.ListCategories(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}

	writeJSON(w, http.StatusOK, categories)
}

type categoryRequest struct {
	Name string `json:"name"`
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var body categoryRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || !utf8.ValidString(body.Name) || len(body.Name) > 80 {
		writeError(w, http.StatusBadRequest, "name must be 1-80 characters")
		return
	}

	c, err := h.repo.CreateCategory(r.Context(), body.Name, slugify(body.Name))
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "category already exists")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	principal, gameID, ok := principalAndGame(w, r)
	if !ok {
		return
	}

	if err := h.repo.AddFavorite(r.Context(), principal.UserID, gameID); err != nil {
		if isForeignKeyViolation(err) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to add favorite")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	principal, gameID, ok := principalAndGame(w, r)
	if !ok {
		return
	}

	if err := h.repo.RemoveFavorite(r.Context(), principal.UserID, gameID); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to remove favorite")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	games, err := h.repo.ListFavorites(r.Context(), principal.UserID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list favorites")
		return
	}

	writeJSON(w, http.StatusOK, games)
}

type commentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	principal, gameID, ok := principalAndGame(w, r)
	if !ok {
		return
	}

	var body commentRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Content = strings.TrimSpace(body.Content)
	if body.Content == "" || !utf8.ValidString(body.Content) || utf8.RuneCountInString(body.Content) > maxCommentLen {
		writeError(w, http.StatusBadRequest, "content must be 1-500 characters")
		return
	}

	comment, err := h.repo.AddComment(r.Context(), gameID, principal.UserID, body.Content)
	if err != nil {
		if isForeignKeyViolation(err) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to add comment")
		return
	}

	writeJSON(w, http.StatusCreated, comment)
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathUUID(w, r, "id", "invalid game id")
	if !ok {
		return
	}

	comments, err := h.repo.ListComments(r.Context(), gameID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list comments")
		return
	}

	writeJSON(w, http.StatusOK, comments)
}

func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	commentID, ok := pathUUID(w, r, "id", "invalid comment id")
	if !ok {
		return
	}

	if err := h.repo.DeleteComment(r.Context(), commentID, principal.UserID); err != nil {
		if errors.Is(err, ErrCommentNotFound) {
			writeError(w, http.StatusNotFound, "comment not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete comment")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type ratingRequest struct {
	Value int `json:"value"`
}

func (h *Handler) RateGame(w http.ResponseWriter, r *http.Request) {
	principal, gameID, ok := principalAndGame(w, r)
	if !ok {
		return
	}

	var body ratingRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if body.Value < 1 || body.Value > 5 {
		writeError(w, http.StatusBadRequest, "value must be between 1 and 5")
		return
	}

	if err := h.repo.UpsertRating(r.Context(), gameID, principal.UserID, body.Value); err != nil {
		if isForeignKeyViolation(err) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to save rating")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RecordPlay(w http.ResponseWriter, r *http.Request) {
	principal, gameID, ok := principalAndGame(w, r)
	if !ok {
		return
	}

	if err := h.repo.RecordPlay(r.Context(), gameID, principal.UserID); err != nil {
		if errors.Is(err, ErrGameNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to record play")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PlayHistory(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.repo.ListPlayHistory(r.Context(), principal.UserID, limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list play history")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.repo.Leaderboard(r.Context(), limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) parseGameInput(w http.ResponseWriter, r *http.Request) (GameInput, bool) {
	var input GameInput
	if !decodeJSON(w, r, &input) {
		return GameInput{}, false
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	input.Region = strings.TrimSpace(input.Region)
	input.ImageURL = strings.TrimSpace(input.ImageURL)

	if input.Name == "" || !utf8.ValidString(input.Name) || len(input.Name) > 150 {
		writeError(w, http.StatusBadRequest, "name must be 1-150 characters")
		return GameInput{}, false
	}
	if !utf8.ValidString(input.Description) || len(input.Description) > 2000 {
		writeError(w, http.StatusBadRequest, "description is invalid")
		return GameInput{}, false
	}
	if _, err := uuid.Parse(input.CategoryID); err != nil {
		writeError(w, http.StatusBadRequest, "category_id is invalid")
		return GameInput{}, false
	}
	if input.Year != 0 && (input.Year < minReleaseYear || input.Year > time.Now().UTC().Year()+1) {
		writeError(w, http.StatusBadRequest, "year is out of range")
		return GameInput{}, false
	}
	if len(input.Region) > 20 {
		writeError(w, http.StatusBadRequest, "region is invalid")
		return GameInput{}, false
	}
	if input.ImageURL != "" && !validImageURL(input.ImageURL) {
		writeError(w, http.StatusBadRequest, "image_url must be a valid http(s) link")
		return GameInput{}, false
	}

	exists, err := h.repo.CategoryExists(r.Context(), input.CategoryID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to validate category")
		return GameInput{}, false
	}
	if !exists {
		writeError(w, http.StatusBadRequest, "category does not exist")
		return GameInput{}, false
	}

	if input.ImageURL != "" && h.uploader != nil {
		uploadedURL, err := h.uploader.UploadImage(r.Context(), input.ImageURL, "games")
		if err != nil {
			sentry.CaptureException(err)
			writeError(w, http.StatusBadGateway, "failed to upload image")
			return GameInput{}, false
		}
		input.ImageURL = uploadedURL
	}

	return input, true
}

func principalAndGame(w http.ResponseWriter, r *http.Request) (auth.Principal, string, bool) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, "", false
	}

	gameID, ok := pathUUID(w, r, "id", "invalid game id")
	if !ok {
		return auth.Principal{}, "", false
	}

	return principal, gameID, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name, message string) (string, bool) {
	id := r.PathValue(name)
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, message)
		return "", false
	}
	return id, true
}

func validImageURL(raw string) bool {
	if len(raw) > 500 || !allowedURLChars.MatchString(raw) {
		return false
	}
	parsed, err := url.ParseRequestURI(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.User == nil && allowedHost.MatchString(parsed.Hostname())
}

func slugify(name string) string {
	slug := slugSanitizer.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
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

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"

	"nestgame-backend/internal/auth"
	"nestgame-backend/internal/media"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxBioLen        = 300
)

type Handler struct {
	repo     *Repository
	uploader media.ImageUploader
}

func NewHandler(repo *Repository, uploader media.ImageUploader) *Handler {
	return &Handler{repo: repo, uploader: uploader}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	profile, err := h.repo.Get(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

type updateRequest struct {
	Bio string `json:"bio"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var body updateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Bio = strings.TrimSpace(body.Bio)
	if !utf8.ValidString(body.Bio) || utf8.RuneCountInString(body.Bio) > maxBioLen {
		writeError(w, http.StatusBadRequest, "bio must be at most 300 characters")
		return
	}

	if err := h.repo.UpdateBio(r.Context(), principal.UserID, body.Bio); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	profile, err := h.repo.Get(r.Context(), principal.UserID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	secureURL, ok := media.UploadFromRequest(w, r, h.uploader, "avatars")
	if !ok {
		return
	}

	if err := h.repo.UpdateAvatar(r.Context(), principal.UserID, secureURL); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to save avatar")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"avatar_url": secureURL})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

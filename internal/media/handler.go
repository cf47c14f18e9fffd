package media

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	maxUploadSizeBytes = 10 << 20
)

// UploadHandler accepts a multipart image and stores it via the configured
// uploader. Admin routes use it for game covers and screenshots.
type UploadHandler struct {
	uploader ImageUploader
	folder   string
}

func NewUploadHandler(uploader ImageUploader, folder string) *UploadHandler {
	return &UploadHandler{uploader: uploader, folder: folder}
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	secureURL, ok := UploadFromRequest(w, r, h.uploader, h.folder)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secure_url": secureURL})
}

// UploadFromRequest validates the multipart "file" field and uploads it. On
// failure the error response has already been written and ok is false.
func UploadFromRequest(w http.ResponseWriter, r *http.Request, uploader ImageUploader, folder string) (string, bool) {
	if uploader == nil {
		writeError(w, http.StatusInternalServerError, "image uploader is not configured")
		return "", false
	}

	if err := r.ParseMultipartForm(maxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return "", false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return "", false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return "", false
	}
	if len(data) > maxUploadSizeBytes {
		writeError(w, http.StatusBadRequest, "file is too large")
		return "", false
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		writeError(w, http.StatusBadRequest, "file must be an image")
		return "", false
	}

	imageSource := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	secureURL, err := uploader.UploadImage(r.Context(), imageSource, folder)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to upload image")
		return "", false
	}

	return secureURL, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

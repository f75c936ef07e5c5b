package media

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"arena-serverless/internal/observability"
)

const (
	defaultMaxUploadBytes = 10 << 20
	logoContentType       = "image/svg+xml"
	logoCacheControl      = "public, max-age=604800, immutable"
)

var unsafeLogoChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Handler serves stored blobs and manages the svg logo set.
type Handler struct {
	store          Store
	logger         *observability.Logger
	maxUploadBytes int64
}

func NewHandler(store Store, logger *observability.Logger, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{store: store, logger: logger, maxUploadBytes: maxUploadBytes}
}

type logoUploadRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// File serves any blob by key with its stored content type.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("path")
	if key == "" {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	obj, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		observability.ReportError(h.logger, "fetch_file", err, map[string]any{"key": key})
		writeError(w, http.StatusInternalServerError, "Failed to fetch file")
		return
	}

	contentType := obj.ContentType
	if strings.HasSuffix(key, ".html") || strings.HasSuffix(key, ".htm") {
		contentType = "text/html; charset=utf-8"
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("X-Frame-Options", "SAMEORIGIN")
	serveObject(w, r, obj)
}

// Logo serves one svg icon with a long-lived cache policy.
func (h *Handler) Logo(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	obj, err := h.store.Get(r.Context(), LogoPrefix+name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Logo not found")
			return
		}
		observability.ReportError(h.logger, "serve_logo", err, map[string]any{"name": name})
		writeError(w, http.StatusInternalServerError, "Failed to serve logo")
		return
	}

	w.Header().Set("Content-Type", logoContentType)
	w.Header().Set("Cache-Control", logoCacheControl)
	serveObject(w, r, obj)
}

func (h *Handler) ListLogos(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.List(r.Context(), LogoPrefix)
	if err != nil {
		observability.ReportError(h.logger, "list_logos", err, nil)
		writeError(w, http.StatusInternalServerError, "Failed to list logos")
		return
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if name := strings.TrimPrefix(key, LogoPrefix); name != "" {
			names = append(names, name)
		}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) UploadLogo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var body logoUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	name := SanitizeLogoName(body.Name)
	if name == "" || body.Content == "" {
		writeError(w, http.StatusBadRequest, "Missing name or content")
		return
	}

	if err := h.store.Put(r.Context(), LogoPrefix+name, []byte(body.Content), logoContentType); err != nil {
		observability.ReportError(h.logger, "upload_logo", err, map[string]any{"name": name})
		writeError(w, http.StatusInternalServerError, "Failed to upload logo")
		return
	}

	h.logger.Info("logo uploaded", map[string]any{"name": name, "size": len(body.Content)})
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (h *Handler) DeleteLogo(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.store.Delete(r.Context(), LogoPrefix+name); err != nil {
		observability.ReportError(h.logger, "delete_logo", err, map[string]any{"name": name})
		writeError(w, http.StatusInternalServerError, "Failed to delete logo")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

// SanitizeLogoName keeps [a-zA-Z0-9._-] and forces an .svg extension.
// It returns "" when nothing usable is left.
func SanitizeLogoName(raw string) string {
	name := unsafeLogoChars.ReplaceAllString(strings.TrimSpace(raw), "")
	if strings.Trim(strings.TrimSuffix(name, ".svg"), ".") == "" {
		return ""
	}
	if !strings.HasSuffix(name, ".svg") {
		name += ".svg"
	}
	return name
}

func serveObject(w http.ResponseWriter, r *http.Request, obj Object) {
	if obj.ETag != "" {
		w.Header().Set("ETag", obj.ETag)
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(obj.Body))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package demo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"arena-serverless/internal/catalog"
	"arena-serverless/internal/media"
	"arena-serverless/internal/observability"
)

const (
	maxJSONBodyBytes = 16 << 20
	htmlContentType  = "text/html"
	thumbContentType = "image/png"
)

var dataURLPrefix = regexp.MustCompile(`^data:image/\w+;base64,`)

// ModelResolver looks up registry entries by key.
type ModelResolver interface {
	Model(ctx context.Context, key string) (catalog.Model, bool, error)
}

type Handler struct {
	store  Store
	blobs  media.Store
	models ModelResolver
	logger *observability.Logger
}

func NewHandler(store Store, blobs media.Store, models ModelResolver, logger *observability.Logger) *Handler {
	return &Handler{store: store, blobs: blobs, models: models, logger: logger}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tabID := strings.TrimSpace(r.URL.Query().Get("tab"))

	demos, err := h.store.List(r.Context(), tabID)
	if err != nil {
		observability.ReportError(h.logger, "list_demos", err, map[string]any{"tab_id": tabID})
		writeError(w, http.StatusInternalServerError, "Failed to fetch demos")
		return
	}

	writeJSON(w, http.StatusOK, demos)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	d, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Demo not found")
			return
		}
		observability.ReportError(h.logger, "get_demo", err, map[string]any{"id": id})
		writeError(w, http.StatusInternalServerError, "Failed to fetch demo")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// Upload renders the submitted source, stores the page and optional
// thumbnail, then records the demo row.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input UploadInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	input.TabID = strings.TrimSpace(input.TabID)
	input.ModelKey = strings.TrimSpace(input.ModelKey)
	input.ModelName = strings.TrimSpace(input.ModelName)
	input.DemoType = strings.TrimSpace(input.DemoType)
	if input.TabID == "" || input.ModelKey == "" || input.DemoType == "" || input.Code == "" {
		writeError(w, http.StatusBadRequest, "Missing tab_id, model_key, demo_type, or code")
		return
	}
	if !ValidType(input.DemoType) {
		writeError(w, http.StatusBadRequest, "Invalid demo_type")
		return
	}

	var thumbnail []byte
	if input.Thumbnail != "" {
		raw, err := decodeThumbnail(input.Thumbnail)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid thumbnail")
			return
		}
		thumbnail = raw
	}

	if input.ModelName == "" {
		m, ok, err := h.models.Model(r.Context(), input.ModelKey)
		if err != nil {
			observability.ReportError(h.logger, "resolve_model", err, map[string]any{"model_key": input.ModelKey})
			writeError(w, http.StatusInternalServerError, "Failed to upload demo")
			return
		}
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown model")
			return
		}
		input.ModelName = m.Name
	}

	page, err := Render(input.DemoType, input.Code)
	if err != nil {
		observability.ReportError(h.logger, "render_demo", err, map[string]any{"demo_type": input.DemoType})
		writeError(w, http.StatusInternalServerError, "Failed to upload demo")
		return
	}

	id, err := NewID()
	if err != nil {
		observability.ReportError(h.logger, "upload_demo", err, nil)
		writeError(w, http.StatusInternalServerError, "Failed to upload demo")
		return
	}

	d := Demo{
		ID:        id,
		TabID:     input.TabID,
		ModelName: input.ModelName,
		ModelKey:  input.ModelKey,
		FileKey:   media.DemoFileKey(id),
		DemoType:  input.DemoType,
	}
	if input.Comment != "" {
		d.Comment = &input.Comment
	}

	stored := make([]string, 0, 2)
	if err := h.blobs.Put(r.Context(), d.FileKey, []byte(page), htmlContentType); err != nil {
		observability.ReportError(h.logger, "store_demo_page", err, map[string]any{"id": id})
		writeError(w, http.StatusInternalServerError, "Failed to upload demo")
		return
	}
	stored = append(stored, d.FileKey)

	if thumbnail != nil {
		key := media.DemoThumbnailKey(id)
		if err := h.blobs.Put(r.Context(), key, thumbnail, thumbContentType); err != nil {
			h.discard(r.Context(), id, stored)
			observability.ReportError(h.logger, "store_demo_thumbnail", err, map[string]any{"id": id})
			writeError(w, http.StatusInternalServerError, "Failed to upload demo")
			return
		}
		d.ThumbnailKey = &key
		stored = append(stored, key)
	}

	created, err := h.store.Create(r.Context(), d)
	if err != nil {
		h.discard(r.Context(), id, stored)
		if errors.Is(err, ErrUnknownTab) {
			writeError(w, http.StatusBadRequest, "Unknown tab")
			return
		}
		observability.ReportError(h.logger, "create_demo", err, map[string]any{"id": id})
		writeError(w, http.StatusInternalServerError, "Failed to upload demo")
		return
	}

	h.logger.Info("demo uploaded", map[string]any{
		"id":        created.ID,
		"tab_id":    created.TabID,
		"model_key": created.ModelKey,
		"demo_type": created.DemoType,
	})
	writeJSON(w, http.StatusCreated, created)
}

// Update changes metadata in place. A code field re-renders the page and
// overwrites the stored blob under the same key.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if input.Empty() {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}
	if input.DemoType != nil && !ValidType(*input.DemoType) {
		writeError(w, http.StatusBadRequest, "Invalid demo_type")
		return
	}
	// The stored page was wrapped for its current type, so a type change
	// needs the source to re-wrap.
	if input.DemoType != nil && input.Code == nil {
		writeError(w, http.StatusBadRequest, "demo_type can only change together with code")
		return
	}
	if blank(input.TabID) || blank(input.ModelKey) || blank(input.ModelName) {
		writeError(w, http.StatusBadRequest, "tab_id, model_key and model_name cannot be empty")
		return
	}
	if input.Code != nil && *input.Code == "" {
		writeError(w, http.StatusBadRequest, "Code cannot be empty")
		return
	}

	current, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Demo not found")
			return
		}
		observability.ReportError(h.logger, "get_demo", err, map[string]any{"id": id})
		writeError(w, http.StatusInternalServerError, "Failed to update demo")
		return
	}

	var page string
	if input.Code != nil {
		demoType := current.DemoType
		if input.DemoType != nil {
			demoType = *input.DemoType
		}
		page, err = Render(demoType, *input.Code)
		if err != nil {
			observability.ReportError(h.logger, "render_demo", err, map[string]any{"id": id})
			writeError(w, http.StatusInternalServerError, "Failed to update demo")
			return
		}
	}

	// Row first: a rejected patch must not leave a rewritten page behind.
	updated, err := h.store.Update(r.Context(), id, Patch{
		TabID:     input.TabID,
		ModelKey:  input.ModelKey,
		ModelName: input.ModelName,
		DemoType:  input.DemoType,
		Comment:   input.Comment,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "Demo not found")
		case errors.Is(err, ErrUnknownTab):
			writeError(w, http.StatusBadRequest, "Unknown tab")
		default:
			observability.ReportError(h.logger, "update_demo", err, map[string]any{"id": id})
			writeError(w, http.StatusInternalServerError, "Failed to update demo")
		}
		return
	}

	if input.Code != nil {
		if err := h.blobs.Put(r.Context(), updated.FileKey, []byte(page), htmlContentType); err != nil {
			observability.ReportError(h.logger, "store_demo_page", err, map[string]any{"id": id})
			writeError(w, http.StatusInternalServerError, "Failed to update demo")
			return
		}
	}

	writeJSON(w, http.StatusOK, updated)
}

// Delete removes the row first so the demo disappears even when blob
// removal fails; leftover blobs are collected by the orphan sweep.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	d, err := h.store.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Demo not found")
			return
		}
		observability.ReportError(h.logger, "delete_demo", err, map[string]any{"id": id})
		writeError(w, http.StatusInternalServerError, "Failed to delete demo")
		return
	}

	keys := []string{d.FileKey}
	if d.ThumbnailKey != nil && *d.ThumbnailKey != "" {
		keys = append(keys, *d.ThumbnailKey)
	}
	h.discard(r.Context(), id, keys)

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) discard(ctx context.Context, id string, keys []string) {
	for _, key := range keys {
		if err := h.blobs.Delete(ctx, key); err != nil && !errors.Is(err, media.ErrNotFound) {
			h.logger.Warn("failed to delete demo blob", map[string]any{"id": id, "key": key, "error": err.Error()})
		}
	}
}

func decodeThumbnail(value string) ([]byte, error) {
	raw := dataURLPrefix.ReplaceAllString(strings.TrimSpace(value), "")
	return base64.StdEncoding.DecodeString(raw)
}

func blank(v *string) bool {
	return v != nil && strings.TrimSpace(*v) == ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

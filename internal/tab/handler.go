package tab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"arena-serverless/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

// BlobDeleter removes stored demo payloads.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

type Handler struct {
	store  Store
	blobs  BlobDeleter
	logger *observability.Logger
}

func NewHandler(store Store, blobs BlobDeleter, logger *observability.Logger) *Handler {
	return &Handler{store: store, blobs: blobs, logger: logger}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tabs, err := h.store.List(r.Context())
	if err != nil {
		observability.ReportError(h.logger, "list_tabs", err, nil)
		writeError(w, http.StatusInternalServerError, "Failed to fetch tabs")
		return
	}

	writeJSON(w, http.StatusOK, tabs)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	input.NameCN = strings.TrimSpace(input.NameCN)
	input.NameEN = strings.TrimSpace(input.NameEN)
	input.Slug = strings.TrimSpace(input.Slug)
	if input.NameCN == "" || input.NameEN == "" || input.Slug == "" {
		writeError(w, http.StatusBadRequest, "Missing name_cn, name_en, or slug")
		return
	}

	t, err := h.store.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrSlugTaken) {
			writeError(w, http.StatusConflict, "Slug already exists")
			return
		}
		observability.ReportError(h.logger, "create_tab", err, map[string]any{"slug": input.Slug})
		writeError(w, http.StatusInternalServerError, "Failed to create tab")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}
	if patch.Slug != nil && strings.TrimSpace(*patch.Slug) == "" {
		writeError(w, http.StatusBadRequest, "Slug cannot be empty")
		return
	}

	t, err := h.store.Update(r.Context(), id, patch)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "Tab not found")
		case errors.Is(err, ErrSlugTaken):
			writeError(w, http.StatusConflict, "Slug already exists")
		default:
			observability.ReportError(h.logger, "update_tab", err, map[string]any{"id": id})
			writeError(w, http.StatusInternalServerError, "Failed to update tab")
		}
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// Delete removes the tab with its demos. Rows go first in one transaction;
// blob removal afterwards is best effort and left to the orphan sweep on failure.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	keys, err := h.store.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Tab not found")
			return
		}
		observability.ReportError(h.logger, "delete_tab", err, map[string]any{"id": id})
		writeError(w, http.StatusInternalServerError, "Failed to delete tab")
		return
	}

	for _, key := range keys {
		if err := h.blobs.Delete(r.Context(), key); err != nil {
			h.logger.Warn("failed to delete demo blob", map[string]any{"tab_id": id, "key": key, "error": err.Error()})
		}
	}

	h.logger.Info("tab deleted", map[string]any{"id": id, "blobs": len(keys)})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

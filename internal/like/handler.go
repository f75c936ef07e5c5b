package like

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"arena-serverless/internal/observability"
)

type Handler struct {
	store  Store
	logger *observability.Logger
}

func NewHandler(store Store, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	demoID := r.PathValue("id")
	ip := observability.ClientIP(r)

	status, err := h.store.Toggle(r.Context(), demoID, ip)
	if err != nil {
		if errors.Is(err, ErrDemoNotFound) {
			writeError(w, http.StatusNotFound, "Demo not found")
			return
		}
		observability.ReportError(h.logger, "toggle_like", err, map[string]any{"demo_id": demoID})
		writeError(w, http.StatusInternalServerError, "Failed to toggle like")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	demoID := r.PathValue("id")

	status, err := h.store.Status(r.Context(), demoID, observability.ClientIP(r))
	if err != nil {
		observability.ReportError(h.logger, "like_info", err, map[string]any{"demo_id": demoID})
		writeError(w, http.StatusInternalServerError, "Failed to get like info")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) ByTab(w http.ResponseWriter, r *http.Request) {
	tabID := strings.TrimSpace(r.URL.Query().Get("tab"))

	likes, err := h.store.ByTab(r.Context(), tabID, observability.ClientIP(r))
	if err != nil {
		observability.ReportError(h.logger, "list_likes", err, map[string]any{"tab_id": tabID})
		writeError(w, http.StatusInternalServerError, "Failed to fetch likes")
		return
	}

	writeJSON(w, http.StatusOK, likes)
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	tabID := strings.TrimSpace(r.URL.Query().Get("tab"))

	entries, err := h.store.Leaderboard(r.Context(), tabID)
	if err != nil {
		observability.ReportError(h.logger, "leaderboard", err, map[string]any{"tab_id": tabID})
		writeError(w, http.StatusInternalServerError, "Failed to fetch leaderboard")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

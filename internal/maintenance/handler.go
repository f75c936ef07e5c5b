package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"arena-serverless/internal/observability"
)

// Runner performs one maintenance pass.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

type CleanupHandler struct {
	runner     Runner
	logger     *observability.Logger
	cronSecret string
}

func NewCleanupHandler(runner Runner, logger *observability.Logger, cronSecret string) *CleanupHandler {
	return &CleanupHandler{
		runner:     runner,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.runner.Run(r.Context())
	if err != nil {
		observability.ReportError(h.logger, "maintenance_cleanup_failed", err, nil)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

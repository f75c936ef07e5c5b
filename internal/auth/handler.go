package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"arena-serverless/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Success          bool   `json:"success"`
	Token            string `json:"token,omitempty"`
	ExpiresAt        int64  `json:"expiresAt,omitempty"`
	Message          string `json:"message,omitempty"`
	Locked           bool   `json:"locked,omitempty"`
	RemainingMinutes int    `json:"remainingMinutes,omitempty"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid     bool  `json:"valid"`
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	// A malformed body is treated like a missing password.
	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		body = loginRequest{}
	}

	ip := observability.ClientIP(r)
	issued, err := h.service.Login(r.Context(), ip, body.Password)
	if err != nil {
		var lockedErr ErrLoginLocked
		var invalidErr ErrInvalidPassword
		switch {
		case errors.Is(err, ErrPasswordRequired):
			writeJSON(w, http.StatusBadRequest, loginResponse{Message: "Password required"})
		case errors.Is(err, ErrNotConfigured):
			h.logger.Error("admin password is not configured", nil)
			writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "Server configuration error"})
		case errors.As(err, &lockedErr):
			retryAfter := int(time.Until(lockedErr.Until).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.logger.Warn("login locked", map[string]any{"ip": ip, "remaining_minutes": lockedErr.RemainingMinutes})
			writeJSON(w, http.StatusTooManyRequests, loginResponse{
				Message:          lockedErr.Error(),
				Locked:           true,
				RemainingMinutes: lockedErr.RemainingMinutes,
			})
		case errors.As(err, &invalidErr):
			writeJSON(w, http.StatusUnauthorized, loginResponse{Message: invalidErr.Error()})
		default:
			sentry.CaptureException(err)
			h.logger.Error("login failed", map[string]any{"ip": ip, "error": err.Error()})
			writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "Login failed"})
		}
		return
	}

	h.logger.Info("admin login", map[string]any{"ip": ip})
	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
	})
}

// Verify never fails with a non-200 status: an unreadable request is simply invalid.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		var body verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			token = strings.TrimSpace(body.Token)
		}
	}

	expiresAt, ok := h.service.Verify(token)
	if !ok {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true, ExpiresAt: expiresAt})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package observability

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// responseRecorder captures what the handler sent so the outer middleware
// can log it and knows whether a status line already went out.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
	sent    bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.sent {
		return
	}
	r.status = status
	r.sent = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.sent {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RequestLoggingMiddleware writes one http_request line per request and
// tags the response with a request id, reusing the caller's when present.
func RequestLoggingMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		fields := map[string]any{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.status,
			"bytes":       recorder.written,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          ClientIP(r),
		}
		if recorder.status >= http.StatusInternalServerError {
			logger.Warn("http_request", fields)
			return
		}
		logger.Info("http_request", fields)
	})
}

// RecoverMiddleware turns a handler panic into a 500 and reports it with the
// request attached.
func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			hub := sentry.CurrentHub().Clone()
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetRequest(r)
				scope.SetExtra("stack", string(debug.Stack()))
				hub.CaptureException(fmt.Errorf("panic: %v", rec))
			})

			logger.Error("panic_recovered", map[string]any{
				"path":   r.URL.Path,
				"method": r.Method,
				"panic":  fmt.Sprint(rec),
			})

			if recorder.sent {
				return
			}
			recorder.Header().Set("Content-Type", "application/json")
			recorder.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(recorder).Encode(map[string]string{"error": "Internal server error"})
		}()

		next.ServeHTTP(recorder, r)
	})
}

package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// ReportError logs err and forwards it to sentry with the given fields attached.
// Callers still answer the client with a generic message.
func ReportError(logger *Logger, message string, err error, fields map[string]any) {
	if err == nil {
		return
	}

	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["error"] = err.Error()
	if logger != nil {
		logger.Error(message, payload)
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", message)
		for k, v := range fields {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

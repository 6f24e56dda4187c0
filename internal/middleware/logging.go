package middleware

import (
	"net/http"
	"time"

	"github.com/conneroisu/invisible-recaptcha/internal/logging"
)

// maxLoggedPath bounds request paths copied into log lines.
const maxLoggedPath = 256

// Logging writes one info line per request after it completes.
func Logging(logger logging.Logger) Middleware {
	logger = logger.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			fields := []interface{}{
				"method", r.Method,
				"path", logging.Truncate(r.URL.Path, maxLoggedPath),
				"status", rec.statusCode(),
				"bytes", rec.bytes,
				"duration", time.Since(start),
			}
			if id := RequestIDFromContext(r.Context()); id != "" {
				fields = append(fields, "request_id", id)
			}
			logger.Info(r.Context(), "request", fields...)
		})
	}
}

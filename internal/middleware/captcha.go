package middleware

import (
	"net/http"

	"github.com/conneroisu/invisible-recaptcha/internal/logging"
)

// RequestVerifier verifies the captcha token carried by a request.
type RequestVerifier interface {
	VerifyRequest(r *http.Request) bool
}

// RequireCaptcha rejects POST, PUT and PATCH requests whose captcha token
// does not verify, with 422 Unprocessable Entity. Other methods pass
// through untouched.
func RequireCaptcha(v RequestVerifier, logger logging.Logger) Middleware {
	logger = logger.WithComponent("captcha")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)
				return
			}

			if !v.VerifyRequest(r) {
				fields := []interface{}{"path", logging.Truncate(r.URL.Path, maxLoggedPath)}
				if id := RequestIDFromContext(r.Context()); id != "" {
					fields = append(fields, "request_id", id)
				}
				logger.Info(r.Context(), "captcha rejected submission", fields...)
				http.Error(w, "captcha verification failed", http.StatusUnprocessableEntity)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

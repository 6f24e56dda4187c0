package middleware

import (
	"net/http"

	"github.com/conneroisu/invisible-recaptcha/internal/logging"
	"github.com/conneroisu/invisible-recaptcha/internal/renderer"
)

// RendererFactory returns a renderer for one request.
type RendererFactory func(r *http.Request) (*renderer.Renderer, error)

// Renderer gives every request its own renderer, so each page starts with a
// zero widget counter and emits its own bootstrap block. A factory error
// aborts the request with 500.
func Renderer(factory RendererFactory, logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rr, err := factory(r)
			if err != nil {
				logger.Error(r.Context(), err, "creating captcha renderer")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(renderer.NewContext(r.Context(), rr)))
		})
	}
}

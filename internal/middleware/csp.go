package middleware

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/logging"
)

// Origins the vendor widget loads scripts and frames from.
var (
	recaptchaScriptSources = []string{"https://www.google.com/recaptcha/", "https://www.gstatic.com/recaptcha/"}
	recaptchaFrameSources  = []string{"https://www.google.com/recaptcha/", "https://recaptcha.google.com/recaptcha/"}
)

// CSPConfig lists the extra sources a page may load besides the vendor's.
type CSPConfig struct {
	ScriptSources []string
	FrameSources  []string
	ReportURI     string
}

// CSPConfigFor allows the configured loader and polyfill origins.
func CSPConfigFor(opts config.Options) CSPConfig {
	var cfg CSPConfig
	for _, raw := range []string{opts.APIURL, opts.PolyfillURL} {
		if origin := originOf(raw); origin != "" {
			cfg.ScriptSources = append(cfg.ScriptSources, origin)
		}
	}
	if origin := originOf(opts.APIURL); origin != "" {
		cfg.FrameSources = append(cfg.FrameSources, origin)
	}
	return cfg
}

func originOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// generateNonce generates a cryptographically secure random nonce
func generateNonce() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}

// CSPNonce generates a nonce per request, stores it where templ.GetNonce
// finds it and sends a Content-Security-Policy that admits only scripts
// and styles carrying it, plus the vendor origins.
func CSPNonce(cfg CSPConfig, logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nonce, err := generateNonce()
			if err != nil {
				logger.Error(r.Context(), err, "failed to generate CSP nonce")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Security-Policy", BuildCSP(cfg, nonce))
			next.ServeHTTP(w, r.WithContext(templ.WithNonce(r.Context(), nonce)))
		})
	}
}

// NonceFromRequest returns the nonce CSPNonce attached, or "".
func NonceFromRequest(r *http.Request) string {
	return templ.GetNonce(r.Context())
}

// BuildCSP renders the policy for nonce.
func BuildCSP(cfg CSPConfig, nonce string) string {
	n := fmt.Sprintf("'nonce-%s'", nonce)

	directives := []string{
		"default-src 'self'",
		"script-src " + joinSources(append([]string{"'self'", n}, recaptchaScriptSources...), cfg.ScriptSources),
		"style-src 'self' " + n,
		"frame-src " + joinSources(recaptchaFrameSources, cfg.FrameSources),
		"connect-src 'self' https://www.google.com/recaptcha/",
		"object-src 'none'",
		"base-uri 'self'",
	}
	if cfg.ReportURI != "" {
		directives = append(directives, "report-uri "+cfg.ReportURI)
	}
	return strings.Join(directives, "; ")
}

func joinSources(base, extra []string) string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range append(append([]string(nil), base...), extra...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return strings.Join(out, " ")
}

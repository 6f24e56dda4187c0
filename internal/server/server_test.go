package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/logging"
	"github.com/conneroisu/invisible-recaptcha/internal/middleware"
	"github.com/conneroisu/invisible-recaptcha/internal/monitoring"
	"github.com/conneroisu/invisible-recaptcha/internal/provider"
	"github.com/conneroisu/invisible-recaptcha/internal/renderer"
	"github.com/conneroisu/invisible-recaptcha/internal/testutils"
	"github.com/conneroisu/invisible-recaptcha/internal/verifier"
)

func testConfig(s *testutils.SiteverifyServer) *config.Config {
	return &config.Config{
		Captcha: config.CaptchaConfig{
			SiteKey:   testutils.TestSiteKey,
			SecretKey: testutils.TestSecretKey,
			Options:   map[string]interface{}{"verify_url": s.VerifyURL()},
		},
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}
}

func newServer(t *testing.T, s *testutils.SiteverifyServer, mutate ...func(*config.Config)) *Server {
	t.Helper()

	cfg := testConfig(s)
	for _, m := range mutate {
		m(cfg)
	}
	srv, err := New(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	cfg := testConfig(s)
	cfg.Captcha.Options["data_badge"] = "top"

	_, err := New(cfg, logging.NewNopLogger())
	require.Error(t, err)
}

func TestContainerIsBooted(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	srv := newServer(t, s)

	c := srv.Container()
	assert.True(t, c.Has(LoggerService))
	for _, name := range provider.New(nil).Provides() {
		assert.True(t, c.Has(name), name)
	}

	v, err := provider.Validator(c)
	require.NoError(t, err)
	assert.True(t, v.Has("captcha"))
}

func TestIndexPage(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	body := rec.Body.String()
	assert.Len(t, testutils.FindElements(t, body, "form"), 2)

	divs := testutils.FindElements(t, body, "div")
	require.Len(t, divs, 2)
	id1, _ := testutils.Attr(divs[0], "id")
	id2, _ := testutils.Attr(divs[1], "id")
	assert.Equal(t, renderer.PlaceholderID(1), id1)
	assert.Equal(t, renderer.PlaceholderID(2), id2)
	assert.Equal(t, 1, strings.Count(body, "w._captchaCallback = function"))
	assert.Contains(t, body, "window._beforeSubmit")
}

func TestIndexScriptsCarryCSPNonce(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	csp := rec.Header().Get("Content-Security-Policy")
	require.NotEmpty(t, csp)

	scripts := testutils.FindElements(t, rec.Body.String(), "script")
	require.GreaterOrEqual(t, len(scripts), 3)
	for _, script := range scripts {
		nonce, ok := testutils.Attr(script, "nonce")
		require.True(t, ok)
		assert.Contains(t, csp, "'nonce-"+nonce+"'")
	}
}

func TestEachRequestGetsFreshRenderer(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	for n := 0; n < 2; n++ {
		body := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
		assert.Contains(t, body, `id="`+renderer.PlaceholderID(1)+`"`)
		assert.NotContains(t, body, renderer.PlaceholderID(3))
	}
}

func TestLanguageNegotiation(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de-CH, de;q=0.9, en;q=0.5")
	body := do(t, h, req).Body.String()
	assert.Contains(t, body, `<html lang="de">`)
	assert.Contains(t, body, "hl=de")

	req = httptest.NewRequest(http.MethodGet, "/?hl=fr", nil)
	req.Header.Set("Accept-Language", "de")
	body = do(t, h, req).Body.String()
	assert.Contains(t, body, `<html lang="fr">`)

	body = do(t, h, httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.NotContains(t, body, "hl=")
}

func TestSubmitAccepted(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	req := postForm("/submit", url.Values{"name": {"Ada"}, verifier.TokenField: {"tok"}})
	req.RemoteAddr = "203.0.113.7:4321"
	rec := do(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Thanks, Ada.")

	require.Equal(t, 1, s.CallCount())
	call := s.Calls()[0]
	assert.Equal(t, "tok", call.Get("response"))
	assert.Equal(t, "203.0.113.7", call.Get("remoteip"))
	assert.Equal(t, testutils.TestSecretKey, call.Get("secret"))
}

func TestSubmitRejected(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": false, "error-codes": ["invalid-input-response"]}`)
	h := newServer(t, s).Handler()

	rec := do(t, h, postForm("/submit", url.Values{"name": {"Ada"}, verifier.TokenField: {"forged"}}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, verifier.TokenField+": captcha")
	assert.NotContains(t, body, "Thanks")
	// The form is rendered again with a working widget.
	assert.Len(t, testutils.FindElements(t, body, "div"), 2)
}

func TestSubmitWithoutTokenMakesNoCall(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	rec := do(t, h, postForm("/submit", url.Values{"name": {"Ada"}}))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, s.CallCount())
}

func TestAPISubmit(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	rec := do(t, h, postForm("/api/submit", url.Values{"email": {"a@example.com"}, verifier.TokenField: {"tok"}}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)

	rec = do(t, h, postForm("/api/submit", url.Values{verifier.TokenField: {"tok"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.SetResponse(http.StatusOK, `{"success": false}`)
	rec = do(t, h, postForm("/api/submit", url.Values{"email": {"a@example.com"}, verifier.TokenField: {"tok"}}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestFailOpenWhenSiteverifyIsDown(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `oops`)
	s.SetResponse(http.StatusBadGateway, `oops`)
	h := newServer(t, s).Handler()

	rec := do(t, h, postForm("/submit", url.Values{"name": {"Ada"}, verifier.TokenField: {"tok"}}))
	assert.Equal(t, http.StatusOK, rec.Code)

	closed := newServer(t, s, func(c *config.Config) {
		c.Captcha.Options["fail_open"] = false
	}).Handler()
	rec = do(t, closed, postForm("/submit", url.Values{"name": {"Ada"}, verifier.TokenField: {"tok"}}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitRateLimited(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s, func(c *config.Config) {
		c.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	}).Handler()

	form := url.Values{"name": {"Ada"}, verifier.TokenField: {"tok"}}
	assert.Equal(t, http.StatusOK, do(t, h, postForm("/submit", form)).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, postForm("/submit", form)).Code)
	assert.Equal(t, 1, s.CallCount())

	// Pages are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestHealthz(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health monitoring.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Contains(t, health.Checks, "captcha_keys")
	assert.Contains(t, health.Checks, "captcha_options")
	assert.Equal(t, monitoring.HealthStatusHealthy, health.Checks["captcha_keys"].Status)
}

func TestHealthzDegradedWithoutKeys(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s, func(c *config.Config) {
		c.Captcha.SiteKey = ""
	}).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health monitoring.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, monitoring.HealthStatusDegraded, health.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	do(t, h, postForm("/submit", url.Values{"name": {"Ada"}, verifier.TokenField: {"tok"}}))

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `recaptcha_verifications_total{outcome="pass"} 1`)
	// Two placeholders on the index page and two more on the result page.
	assert.Contains(t, body, "recaptcha_widgets_rendered_total 4")
	assert.Contains(t, body, "go_goroutines")
}

func TestUnknownRoutes(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	h := newServer(t, s).Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, httptest.NewRequest(http.MethodGet, "/nope", nil)).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, httptest.NewRequest(http.MethodGet, "/submit", nil)).Code)
}

func TestServeAndShutdown(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	srv := newServer(t, s)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	// Shutdown is idempotent.
	assert.NoError(t, srv.Shutdown(context.Background()))
}

package verifier

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/errors"
	"github.com/conneroisu/invisible-recaptcha/internal/logging"
	"github.com/conneroisu/invisible-recaptcha/internal/metrics"
	"github.com/conneroisu/invisible-recaptcha/internal/testutils"
)

func newVerifier(t *testing.T, s *testutils.SiteverifyServer, mutate ...func(*config.Options)) *Verifier {
	t.Helper()

	mutate = append([]func(*config.Options){func(o *config.Options) {
		o.VerifyURL = s.VerifyURL()
	}}, mutate...)
	return New(testutils.NewTestCaptcha(t, mutate...))
}

func failClosed(o *config.Options) { o.FailOpen = false }

func TestVerifyTokenEmptyMakesNoCall(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	m := metrics.New(nil)
	v := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = s.VerifyURL() }),
		WithMetrics(m))

	assert.False(t, v.VerifyToken(context.Background(), "", "1.2.3.4"))
	assert.Equal(t, 0, s.CallCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications().WithLabelValues(metrics.OutcomeEmpty)))
}

func TestVerifyTokenResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"success", `{"success": true}`, true},
		{"success with details", `{"success":true,"challenge_ts":"2024-01-02T03:04:05Z","hostname":"example.com"}`, true},
		{"failure", `{"success": false}`, false},
		{"failure with codes", `{"success": false, "error-codes": ["invalid-input-secret"]}`, false},
		{"empty object", `{}`, false},
		{"string true", `{"success": "true"}`, false},
		{"number one", `{"success": 1}`, false},
		{"null", `{"success": null}`, false},
		{"malformed", `not json`, false},
		{"array", `[true]`, false},
		{"empty body", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutils.NewSiteverifyServer(t, tt.body)
			v := newVerifier(t, s)

			assert.Equal(t, tt.want, v.VerifyToken(context.Background(), "tok", "1.2.3.4"))
			assert.Equal(t, 1, s.CallCount())
		})
	}
}

func TestVerifyTokenSendsForm(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	v := newVerifier(t, s)

	require.True(t, v.VerifyToken(context.Background(), "response-token", "1.2.3.4"))

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, url.Values{
		"secret":   {"SEC"},
		"remoteip": {"1.2.3.4"},
		"response": {"response-token"},
	}, calls[0])
}

func TestVerifyTokenUpstreamStatus(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, "")
	s.SetResponse(http.StatusInternalServerError, `{"success": true}`)

	t.Run("fail open", func(t *testing.T) {
		m := metrics.New(nil)
		v := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = s.VerifyURL() }),
			WithMetrics(m))

		assert.True(t, v.VerifyToken(context.Background(), "tok", "1.2.3.4"))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications().WithLabelValues(metrics.OutcomeFailOpen)))
	})

	t.Run("fail closed", func(t *testing.T) {
		m := metrics.New(nil)
		v := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = s.VerifyURL() }, failClosed),
			WithMetrics(m))

		assert.False(t, v.VerifyToken(context.Background(), "tok", "1.2.3.4"))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications().WithLabelValues(metrics.OutcomeError)))
	})
}

func TestVerifyTokenTransportFailure(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	verifyURL := s.VerifyURL()
	s.Close()

	open := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = verifyURL }))
	assert.True(t, open.VerifyToken(context.Background(), "tok", "1.2.3.4"))

	closed := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = verifyURL }, failClosed))
	assert.False(t, closed.VerifyToken(context.Background(), "tok", "1.2.3.4"))
}

func TestVerifyTokenTimeout(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer slow.Close()
	defer close(release)

	v := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = slow.URL }, failClosed))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.False(t, v.VerifyToken(ctx, "tok", "1.2.3.4"))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestVerifyTokenFailOpenIsLogged(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, "")
	s.SetResponse(http.StatusServiceUnavailable, "")

	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Format: "json", Output: &buf})
	v := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = s.VerifyURL() }),
		WithLogger(logger))

	require.True(t, v.VerifyToken(context.Background(), "tok", "1.2.3.4"))

	out := buf.String()
	assert.Contains(t, out, "Verification endpoint unavailable, accepting token")
	assert.Contains(t, out, `"policy":"fail_open"`)
	assert.Contains(t, out, `"component":"verifier"`)
	assert.NotContains(t, out, "SEC")
}

func TestCheck(t *testing.T) {
	s := testutils.NewSiteverifyServer(t,
		`{"success": false, "challenge_ts": "2024-01-02T03:04:05Z", "hostname": "example.com", "error-codes": ["timeout-or-duplicate"]}`)
	v := newVerifier(t, s)

	verdict, err := v.Check(context.Background(), "tok", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, verdict.Success)
	assert.False(t, verdict.Malformed)
	assert.Equal(t, "example.com", verdict.Hostname)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), verdict.ChallengeTS.UTC())
	assert.Equal(t, []string{"timeout-or-duplicate"}, verdict.ErrorCodes)
}

func TestCheckUpstreamStatusIsNetworkError(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, "")
	s.SetResponse(http.StatusBadGateway, "bad gateway")
	v := newVerifier(t, s)

	verdict, err := v.Check(context.Background(), "tok", "1.2.3.4")
	assert.Nil(t, verdict)
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
	assert.Contains(t, err.Error(), errors.ErrCodeUpstreamStatus)
}

type stubDoer struct {
	requests []*http.Request
	resp     *http.Response
	err      error
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	return d.resp, d.err
}

func TestWithHTTPClient(t *testing.T) {
	doer := &stubDoer{resp: &http.Response{
		StatusCode: http.StatusOK,
		Body:       httpBody(`{"success": true}`),
	}}
	v := New(testutils.NewTestCaptcha(t), WithHTTPClient(doer))

	assert.True(t, v.VerifyToken(context.Background(), "tok", "5.6.7.8"))
	require.Len(t, doer.requests, 1)

	req := doer.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, config.DefaultVerifyURL, req.URL.String())
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	_, hasDeadline := req.Context().Deadline()
	assert.True(t, hasDeadline)
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	v := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = s.VerifyURL() }),
		WithTracerProvider(tp))

	require.True(t, v.VerifyToken(context.Background(), "tok", "1.2.3.4"))
	v.VerifyToken(context.Background(), "", "1.2.3.4")

	s.SetResponse(http.StatusInternalServerError, "")
	v.VerifyToken(context.Background(), "tok", "1.2.3.4")

	spans := recorder.Ended()
	require.Len(t, spans, 2, "empty tokens are not traced")
	assert.Equal(t, "recaptcha.siteverify", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestVerifyRequest(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	v := newVerifier(t, s)

	form := url.Values{TokenField: {"posted-token"}, "name": {"alice"}}
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "9.8.7.6:4321"

	assert.True(t, v.VerifyRequest(req))

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "posted-token", calls[0].Get("response"))
	assert.Equal(t, "9.8.7.6", calls[0].Get("remoteip"))
}

func TestVerifyRequestWithoutToken(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	v := newVerifier(t, s)

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("name=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	assert.False(t, v.VerifyRequest(req))
	assert.Equal(t, 0, s.CallCount())
}

func TestConcurrentVerification(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	v := newVerifier(t, s)

	const n = 20
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- v.VerifyToken(context.Background(), "same-token", "1.2.3.4")
		}()
	}
	for i := 0; i < n; i++ {
		assert.True(t, <-results)
	}
	assert.Equal(t, n, s.CallCount(), "identical tokens are not deduplicated")
}

func TestEndToEndEmptyToken(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)

	opts, err := config.OptionsFromMap(map[string]interface{}{
		"hideBadge": false,
		"dataBadge": "bottomright",
		"timeout":   5,
		"debug":     false,
	})
	require.NoError(t, err)
	opts.VerifyURL = s.VerifyURL()

	c, err := config.NewCaptcha("SK", "SEC", opts)
	require.NoError(t, err)

	assert.False(t, New(c).VerifyToken(context.Background(), "", "1.2.3.4"))
	assert.Equal(t, 0, s.CallCount())
}

func TestVerifyTokenRecoversAfterTransientFault(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": false}`)
	faults := testutils.NewFaultInjector()
	faults.InjectErrorCount(testutils.OperationSiteverify, context.DeadlineExceeded, 1)

	m := metrics.New(nil)
	v := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = s.VerifyURL() }),
		WithHTTPClient(&testutils.FaultyDoer{Next: s.Client(), Injector: faults}),
		WithMetrics(m))

	// The first call never reaches siteverify and fails open; the second
	// gets the real verdict.
	assert.True(t, v.VerifyToken(context.Background(), "tok", "1.2.3.4"))
	assert.False(t, v.VerifyToken(context.Background(), "tok", "1.2.3.4"))

	assert.Equal(t, 1, s.CallCount())
	assert.Equal(t, int64(1), faults.Injected(testutils.OperationSiteverify))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications().WithLabelValues(metrics.OutcomeFailOpen)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications().WithLabelValues(metrics.OutcomeFail)))
}

func TestVerifyTokenSlowUpstreamFailsClosed(t *testing.T) {
	s := testutils.NewSiteverifyServer(t, `{"success": true}`)
	faults := testutils.NewFaultInjector()
	faults.InjectDelay(testutils.OperationSiteverify, time.Hour, nil)

	v := New(testutils.NewTestCaptcha(t, func(o *config.Options) { o.VerifyURL = s.VerifyURL() }, failClosed),
		WithHTTPClient(&testutils.FaultyDoer{Next: s.Client(), Injector: faults}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.False(t, v.VerifyToken(ctx, "tok", "1.2.3.4"))
	assert.Equal(t, 0, s.CallCount())
}

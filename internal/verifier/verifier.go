// Package verifier checks response tokens against the reCAPTCHA siteverify
// endpoint.
//
// Verification is a single form-encoded POST per token. An empty token fails
// without a network call, and a body whose "success" member is anything but
// the JSON literal true fails closed. When the endpoint cannot be reached
// the FailOpen option decides the outcome; either way the failure is logged.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/errors"
	"github.com/conneroisu/invisible-recaptcha/internal/logging"
	"github.com/conneroisu/invisible-recaptcha/internal/metrics"
	"github.com/conneroisu/invisible-recaptcha/internal/version"
)

// TokenField is the form field the vendor widget fills with the token.
const TokenField = "g-recaptcha-response"

const (
	tracerName   = "github.com/conneroisu/invisible-recaptcha/internal/verifier"
	spanName     = "recaptcha.siteverify"
	maxBodyBytes = 64 << 10
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Verdict is the decoded siteverify answer. Only Success decides the
// outcome; the other fields are best-effort.
type Verdict struct {
	Success     bool
	Hostname    string
	ChallengeTS time.Time
	ErrorCodes  []string
	// Malformed is set when the body was not a JSON object.
	Malformed bool
}

// Verifier is immutable after New and safe for concurrent use.
type Verifier struct {
	cfg     *config.Captcha
	client  Doer
	logger  logging.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client Doer) Option {
	return func(v *Verifier) {
		v.client = client
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// WithTracerProvider traces siteverify calls with tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *Verifier) {
		v.tracer = tp.Tracer(tracerName)
	}
}

// New creates a verifier. The default client times out after the
// configured timeout.
func New(cfg *config.Captcha, opts ...Option) *Verifier {
	v := &Verifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Options().TimeoutDuration()},
		logger: logging.NewNopLogger(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.WithComponent("verifier")
	return v
}

// VerifyToken reports whether token passes verification for clientIP.
func (v *Verifier) VerifyToken(ctx context.Context, token, clientIP string) bool {
	if token == "" {
		v.metrics.RecordVerification(metrics.OutcomeEmpty, 0)
		v.logger.Debug(ctx, "Empty captcha token rejected", "client_ip", clientIP)
		return false
	}

	start := time.Now()
	verdict, err := v.Check(ctx, token, clientIP)
	elapsed := time.Since(start)

	if err != nil {
		if v.cfg.Options().FailOpen {
			v.metrics.RecordVerification(metrics.OutcomeFailOpen, elapsed)
			v.logger.Warn(ctx, err, "Verification endpoint unavailable, accepting token",
				"client_ip", clientIP,
				"policy", "fail_open")
			return true
		}
		v.metrics.RecordVerification(metrics.OutcomeError, elapsed)
		v.logger.Warn(ctx, err, "Verification endpoint unavailable, rejecting token",
			"client_ip", clientIP,
			"policy", "fail_closed")
		return false
	}

	if !verdict.Success {
		v.metrics.RecordVerification(metrics.OutcomeFail, elapsed)
		v.logger.Info(ctx, "Captcha verification failed",
			"client_ip", clientIP,
			"error_codes", verdict.ErrorCodes,
			"malformed", verdict.Malformed)
		return false
	}

	v.metrics.RecordVerification(metrics.OutcomePass, elapsed)
	v.logger.Debug(ctx, "Captcha verification passed",
		"client_ip", clientIP,
		"hostname", verdict.Hostname,
		"duration", elapsed)
	return true
}

// VerifyRequest verifies the token posted in r by the client that sent r.
func (v *Verifier) VerifyRequest(r *http.Request) bool {
	return v.VerifyToken(r.Context(), r.FormValue(TokenField), v.ClientIP(r))
}

// ClientIP returns the caller address of r, honouring proxy headers only
// when configured to.
func (v *Verifier) ClientIP(r *http.Request) string {
	return ClientIP(r, v.cfg.Options().TrustProxyHeaders)
}

// Check performs the siteverify call. The error is non-nil only for
// transport failures, which include non-2xx answers; an unparseable body
// yields a failed Verdict instead.
func (v *Verifier) Check(ctx context.Context, token, clientIP string) (*Verdict, error) {
	opts := v.cfg.Options()

	ctx, span := v.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	fail := func(err *errors.CaptchaError) (*Verdict, error) {
		err = err.WithComponent("verifier")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.TimeoutDuration())
	defer cancel()

	form := url.Values{
		"secret":   {v.cfg.SecretKey()},
		"remoteip": {clientIP},
		"response": {token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fail(errors.NewNetworkError(errors.ErrCodeTransport, "building siteverify request", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := v.client.Do(req)
	if err != nil {
		return fail(errors.NewNetworkError(errors.ErrCodeTransport, "siteverify request failed", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return fail(errors.NewNetworkError(errors.ErrCodeUpstreamStatus,
			fmt.Sprintf("siteverify answered %d", resp.StatusCode), nil).
			WithContext("status", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fail(errors.NewNetworkError(errors.ErrCodeTransport, "reading siteverify response", err))
	}

	verdict := ParseVerdict(body)
	span.SetAttributes(
		attribute.Bool("recaptcha.success", verdict.Success),
		attribute.StringSlice("recaptcha.error_codes", verdict.ErrorCodes),
	)
	return verdict, nil
}

var jsonTrue = []byte("true")

// ParseVerdict decodes a siteverify body. Success is true only when the
// "success" member is the JSON literal true; strings, numbers and null all
// count as failure.
func ParseVerdict(body []byte) *Verdict {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return &Verdict{Malformed: true}
	}

	verdict := &Verdict{
		Success: bytes.Equal(bytes.TrimSpace(fields["success"]), jsonTrue),
	}

	if raw, ok := fields["hostname"]; ok {
		_ = json.Unmarshal(raw, &verdict.Hostname)
	}
	if raw, ok := fields["challenge_ts"]; ok {
		var ts string
		if json.Unmarshal(raw, &ts) == nil {
			verdict.ChallengeTS, _ = time.Parse(time.RFC3339, ts)
		}
	}
	if raw, ok := fields["error-codes"]; ok {
		_ = json.Unmarshal(raw, &verdict.ErrorCodes)
	}

	return verdict
}

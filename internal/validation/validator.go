package validation

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/invisible-recaptcha/internal/errors"
)

const (
	// CaptchaRuleName is the rule name form definitions use for the token
	// field.
	CaptchaRuleName = "captcha"
	// RequiredRuleName rejects empty values.
	RequiredRuleName = "required"
)

// Rule reports whether value is acceptable. r is the request the value was
// read from and may be nil when validating outside a request.
type Rule func(ctx context.Context, value string, r *http.Request) bool

// TokenVerifier is the part of the verification client a captcha rule
// needs.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token, clientIP string) bool
	ClientIP(r *http.Request) string
}

// CaptchaRule verifies value as a captcha response token, using the
// request's client address when one is available.
func CaptchaRule(tv TokenVerifier) Rule {
	return func(ctx context.Context, value string, r *http.Request) bool {
		var ip string
		if r != nil {
			ip = tv.ClientIP(r)
		}
		return tv.VerifyToken(ctx, value, ip)
	}
}

func required(_ context.Context, value string, _ *http.Request) bool {
	return strings.TrimSpace(value) != ""
}

// Validator is a registry of named rules that can be extended at runtime.
type Validator struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewValidator returns a validator holding only the built-in required rule.
func NewValidator() *Validator {
	return &Validator{
		rules: map[string]Rule{RequiredRuleName: required},
	}
}

// Extend registers rule under name, replacing any previous rule.
func (v *Validator) Extend(name string, rule Rule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[name] = rule
}

// Has reports whether a rule is registered under name.
func (v *Validator) Has(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.rules[name]
	return ok
}

// Rules returns the registered rule names, sorted.
func (v *Validator) Rules() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.rules))
	for name := range v.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *Validator) rule(name string) (Rule, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rule, ok := v.rules[name]
	return rule, ok
}

// Result collects the outcome of one Validate call.
type Result struct {
	// Failed maps a field to the rules it did not pass, in evaluation order.
	Failed map[string][]string
	// Errors holds configuration problems such as unknown rule names.
	Errors []error
}

// Passes reports whether every rule passed.
func (r *Result) Passes() bool {
	return len(r.Failed) == 0
}

// Fails is the negation of Passes.
func (r *Result) Fails() bool {
	return !r.Passes()
}

func (r *Result) fail(field, rule string) {
	if r.Failed == nil {
		r.Failed = make(map[string][]string)
	}
	r.Failed[field] = append(r.Failed[field], rule)
}

// Validate runs each field's rules against the request's form value for
// that field. Unknown rule names fail the field and are recorded in
// Result.Errors. Fields are evaluated in sorted order so rule side effects
// are deterministic.
func (v *Validator) Validate(r *http.Request, fields map[string][]string) *Result {
	ctx := r.Context()
	result := &Result{}

	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	for _, field := range names {
		value := r.FormValue(field)
		for _, name := range fields[field] {
			rule, ok := v.rule(name)
			if !ok {
				result.fail(field, name)
				result.Errors = append(result.Errors, errors.NewConfigError(errors.ErrCodeUnknownRule,
					fmt.Sprintf("field %q uses unknown rule %q", field, name)))
				continue
			}
			if !rule(ctx, value, r) {
				result.fail(field, name)
			}
		}
	}

	return result
}

// ParseRules splits a pipe-separated rule list such as "required|captcha".
func ParseRules(definition string) []string {
	var rules []string
	for _, part := range strings.Split(definition, "|") {
		if part = strings.TrimSpace(part); part != "" {
			rules = append(rules, part)
		}
	}
	return rules
}

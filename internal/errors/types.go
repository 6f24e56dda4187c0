// Package errors defines the structured error type shared by the
// configuration, verification and validation layers.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
)

// CaptchaError is a structured error type with context.
type CaptchaError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Component string
}

// Error implements the error interface.
func (e *CaptchaError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *CaptchaError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *CaptchaError) Is(target error) bool {
	var t *CaptchaError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *CaptchaError) WithContext(key string, value interface{}) *CaptchaError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *CaptchaError) WithComponent(component string) *CaptchaError {
	e.Component = component

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *CaptchaError {
	return &CaptchaError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *CaptchaError {
	return &CaptchaError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewNetworkError creates a network error. Transport failures talking to
// the verification endpoint are reported with this type.
func NewNetworkError(code, message string, cause error) *CaptchaError {
	return &CaptchaError{
		Type:    ErrorTypeNetwork,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *CaptchaError {
	return &CaptchaError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsNetworkError checks if an error is a transport failure.
func IsNetworkError(err error) bool {
	var ce *CaptchaError
	if errors.As(err, &ce) {
		return ce.Type == ErrorTypeNetwork
	}

	return false
}

// IsConfigError checks if an error is configuration-related.
func IsConfigError(err error) bool {
	var ce *CaptchaError
	if errors.As(err, &ce) {
		return ce.Type == ErrorTypeConfig
	}

	return false
}

// ErrorHandler provides centralized error logging.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level chosen by its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var ce *CaptchaError
	if !errors.As(err, &ce) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch ce.Type {
	case ErrorTypeValidation, ErrorTypeNetwork:
		h.logger.Warn(ctx, ce, "Recoverable error occurred",
			"type", ce.Type,
			"code", ce.Code,
			"component", ce.Component)
	default:
		h.logger.Error(ctx, ce, "Error occurred",
			"type", ce.Type,
			"code", ce.Code,
			"component", ce.Component)
	}
}

// Common error codes.
const (
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeInvalidOption    = "ERR_INVALID_OPTION"
	ErrCodeInvalidURL       = "ERR_INVALID_URL"
	ErrCodeTransport        = "ERR_TRANSPORT"
	ErrCodeUpstreamStatus   = "ERR_UPSTREAM_STATUS"
	ErrCodeUnknownRule      = "ERR_UNKNOWN_RULE"
	ErrCodeServiceNotFound  = "ERR_SERVICE_NOT_FOUND"
	ErrCodeCircularServices = "ERR_CIRCULAR_SERVICES"
)

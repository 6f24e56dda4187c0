// Package middleware holds the HTTP middleware that connects a host
// application to the captcha services: a renderer and CSP nonce per
// request, a gate in front of protected form posts, per-client rate
// limiting, request IDs and access logging.
package middleware

import (
	"fmt"
	"net/http"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// MiddlewareChain composes middleware in onion order: the first middleware
// added is the outermost wrapper and sees the request first.
//
// Example with middlewares [A, B, C] and handler H:
// - Execution: A(B(C(H)))
// - Request flow: A -> B -> C -> H
// - Response flow: H -> C -> B -> A
type MiddlewareChain struct {
	middlewares []Middleware
}

// NewMiddlewareChain creates a chain holding middlewares in order.
func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	mc := &MiddlewareChain{middlewares: make([]Middleware, 0, len(middlewares))}
	for _, m := range middlewares {
		mc.AddMiddleware(m)
	}
	return mc
}

// AddMiddleware appends middleware as the innermost wrapper so far. A nil
// middleware is ignored, which lets callers add optional stages inline.
func (mc *MiddlewareChain) AddMiddleware(middleware Middleware) {
	if middleware == nil {
		return
	}
	mc.middlewares = append(mc.middlewares, middleware)
}

// Apply wraps handler with the whole chain. It does not modify the chain
// and is safe for concurrent use.
//
// Panics if handler is nil or a middleware returns nil.
func (mc *MiddlewareChain) Apply(handler http.Handler) http.Handler {
	if handler == nil {
		panic("MiddlewareChain.Apply: handler cannot be nil")
	}

	wrappedHandler := handler
	for i := len(mc.middlewares) - 1; i >= 0; i-- {
		wrappedHandler = mc.middlewares[i](wrappedHandler)
		if wrappedHandler == nil {
			panic(fmt.Sprintf("MiddlewareChain.Apply: middleware at index %d returned nil handler", i))
		}
	}

	return wrappedHandler
}

// GetMiddlewareCount returns the number of middlewares in the chain
func (mc *MiddlewareChain) GetMiddlewareCount() int {
	return len(mc.middlewares)
}

// Clone creates a copy of the middleware chain
func (mc *MiddlewareChain) Clone() *MiddlewareChain {
	clone := &MiddlewareChain{middlewares: make([]Middleware, len(mc.middlewares))}
	copy(clone.middlewares, mc.middlewares)
	return clone
}

// Chain composes middlewares into one, outermost first.
func Chain(middlewares ...Middleware) Middleware {
	mc := NewMiddlewareChain(middlewares...)
	return mc.Apply
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) statusCode() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

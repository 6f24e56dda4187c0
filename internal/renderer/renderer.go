// Package renderer builds the HTML and JavaScript fragment that embeds the
// invisible reCAPTCHA widget into a server-rendered page.
//
// A Renderer is meant to live for one page render. The first widget it
// emits carries the shared bootstrap block (vendor loader, form wiring,
// optional badge hiding); every later widget is only a placeholder element
// with a unique id, so a page can hold any number of protected forms while
// the vendor's single global callback is registered once.
package renderer

import (
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"sync"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
)

// Observer is notified for every placeholder emitted.
type Observer interface {
	WidgetRendered()
}

// Renderer generates widget markup for one page. It is safe for concurrent
// use, although a page render normally happens on a single goroutine.
type Renderer struct {
	cfg      *config.Captcha
	observer Observer

	mu               sync.Mutex
	renderedTimes    int
	bootstrapEmitted bool
	polyfillEmitted  bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithObserver reports every rendered widget to o.
func WithObserver(o Observer) Option {
	return func(r *Renderer) {
		r.observer = o
	}
}

// New creates a renderer with a zero render counter.
func New(cfg *config.Captcha, opts ...Option) *Renderer {
	r := &Renderer{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ScriptURL returns the vendor loader URL with the explicit-render
// parameters and, when lang is set, exactly one hl parameter.
func (r *Renderer) ScriptURL(lang string) string {
	return scriptURL(r.cfg.Options().APIURL, lang)
}

func scriptURL(api, lang string) string {
	query := "onload=" + CallbackName + "&render=explicit"
	lang = strings.TrimSpace(lang)
	if lang != "" {
		query += "&hl=" + url.QueryEscape(lang)
	}

	u, err := url.Parse(api)
	if err != nil {
		return api + "?" + query
	}

	// Parameters of the configured loader survive; a request language
	// replaces a configured hl.
	extra := u.Query()
	extra.Del("onload")
	extra.Del("render")
	if lang != "" {
		extra.Del("hl")
	}
	if len(extra) > 0 {
		query += "&" + extra.Encode()
	}

	u.RawQuery = query
	u.Fragment = ""
	return u.String()
}

// RenderPolyfill returns the polyfill script tag, or nothing when the
// polyfill is disabled.
func (r *Renderer) RenderPolyfill() template.HTML {
	return r.polyfill("")
}

func (r *Renderer) polyfill(nonce string) template.HTML {
	src := r.cfg.Options().PolyfillURL
	if src == "" {
		return ""
	}
	return execute(polyfillTemplate, struct{ Src, Nonce string }{src, nonce})
}

// RenderWidgetMarkup returns the bootstrap block on the first call of this
// renderer's lifetime, followed by a new placeholder.
func (r *Renderer) RenderWidgetMarkup(lang, nonce string) template.HTML {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bootstrapLocked(lang, nonce) + r.placeholderLocked()
}

// RenderHTML returns only a new placeholder.
func (r *Renderer) RenderHTML() template.HTML {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.placeholderLocked()
}

// RenderScripts returns the bootstrap block if it has not been emitted yet,
// and nothing otherwise.
func (r *Renderer) RenderScripts(lang, nonce string) template.HTML {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bootstrapLocked(lang, nonce)
}

// Render returns the polyfill (first call only) and the widget markup.
func (r *Renderer) Render(lang, nonce string) template.HTML {
	r.mu.Lock()
	defer r.mu.Unlock()

	var polyfill template.HTML
	if !r.polyfillEmitted {
		r.polyfillEmitted = true
		polyfill = r.polyfill(nonce)
	}

	return polyfill + r.bootstrapLocked(lang, nonce) + r.placeholderLocked()
}

// RenderedTimes returns how many placeholders have been emitted.
func (r *Renderer) RenderedTimes() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.renderedTimes
}

// Config returns the configuration the renderer reads.
func (r *Renderer) Config() *config.Captcha {
	return r.cfg
}

type bootstrapData struct {
	SiteKey   string
	Badge     string
	ScriptURL string
	Nonce     string
	HideBadge bool
	Debug     bool
	LazyLoad  bool
}

func (r *Renderer) bootstrapLocked(lang, nonce string) template.HTML {
	if r.bootstrapEmitted {
		return ""
	}
	r.bootstrapEmitted = true

	opts := r.cfg.Options()
	return execute(bootstrapTemplate, bootstrapData{
		SiteKey:   r.cfg.SiteKey(),
		Badge:     string(opts.DataBadge),
		ScriptURL: scriptURL(opts.APIURL, lang),
		Nonce:     nonce,
		HideBadge: opts.HideBadge,
		Debug:     opts.Debug,
		LazyLoad:  opts.LazyLoad,
	})
}

func (r *Renderer) placeholderLocked() template.HTML {
	r.renderedTimes++
	if r.observer != nil {
		r.observer.WidgetRendered()
	}

	return execute(placeholderTemplate, struct {
		ID    string
		Badge string
	}{
		ID:    PlaceholderID(r.renderedTimes),
		Badge: string(r.cfg.Options().DataBadge),
	})
}

// PlaceholderID returns the element id of the n-th widget, counting from 1.
func PlaceholderID(n int) string {
	return fmt.Sprintf("%s_%d", PlaceholderClass, n)
}

// execute panics on failure: the templates are parsed at init and the data
// types are fixed, so an error here is a programming error.
func execute(t *template.Template, data interface{}) template.HTML {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		panic(fmt.Sprintf("renderer: executing %s template: %v", t.Name(), err))
	}
	return template.HTML(b.String()) //nolint:gosec // escaped by html/template
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying r.
func NewContext(ctx context.Context, r *Renderer) context.Context {
	return context.WithValue(ctx, contextKey{}, r)
}

// FromContext returns the renderer stored by NewContext, if any.
func FromContext(ctx context.Context) (*Renderer, bool) {
	r, ok := ctx.Value(contextKey{}).(*Renderer)
	return r, ok && r != nil
}

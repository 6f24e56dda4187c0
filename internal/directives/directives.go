// Package directives exposes the renderer to page templates.
//
// html/template pages use FuncMap; templ pages use the components, which
// find the request's renderer in the context placed there by the renderer
// middleware and default the nonce to the one templ carries.
package directives

import (
	"context"
	"html/template"
	"io"

	"github.com/a-h/templ"

	"github.com/conneroisu/invisible-recaptcha/internal/errors"
	"github.com/conneroisu/invisible-recaptcha/internal/renderer"
)

// Directive names.
const (
	Captcha         = "captcha"
	CaptchaPolyfill = "captchaPolyfill"
	CaptchaHTML     = "captchaHTML"
	CaptchaScripts  = "captchaScripts"
)

// ErrNoRenderer is returned by the components when the context carries no
// renderer.
var ErrNoRenderer = errors.NewInternalError("ERR_NO_RENDERER", "no captcha renderer in context", nil)

// Names lists the directives in the order the renderer documents them.
func Names() []string {
	return []string{Captcha, CaptchaPolyfill, CaptchaHTML, CaptchaScripts}
}

// langNonce reads the optional (lang, nonce) arguments.
func langNonce(args []string) (lang, nonce string) {
	if len(args) > 0 {
		lang = args[0]
	}
	if len(args) > 1 {
		nonce = args[1]
	}
	return lang, nonce
}

// FuncMap binds the directives to r. Each call of a directive in a page is
// one call of the matching renderer method, so a template using captcha
// twice gets one bootstrap block and two placeholders.
//
//	{{captcha}}  {{captcha "de"}}  {{captcha "de" .Nonce}}
//	{{captchaPolyfill}}  {{captchaHTML}}  {{captchaScripts "de" .Nonce}}
func FuncMap(r *renderer.Renderer) template.FuncMap {
	return template.FuncMap{
		Captcha: func(args ...string) template.HTML {
			return r.Render(langNonce(args))
		},
		CaptchaPolyfill: func() template.HTML {
			return r.RenderPolyfill()
		},
		CaptchaHTML: func() template.HTML {
			return r.RenderHTML()
		},
		CaptchaScripts: func(args ...string) template.HTML {
			return r.RenderScripts(langNonce(args))
		},
	}
}

func component(render func(r *renderer.Renderer, nonce string) template.HTML, nonce string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		r, ok := renderer.FromContext(ctx)
		if !ok {
			return ErrNoRenderer
		}
		n := nonce
		if n == "" {
			n = templ.GetNonce(ctx)
		}
		_, err := io.WriteString(w, string(render(r, n)))
		return err
	})
}

// Widget renders the polyfill (first time only), the bootstrap block (first
// time only) and a placeholder.
func Widget(lang, nonce string) templ.Component {
	return component(func(r *renderer.Renderer, nonce string) template.HTML {
		return r.Render(lang, nonce)
	}, nonce)
}

// Polyfill renders the polyfill script tag.
func Polyfill() templ.Component {
	return component(func(r *renderer.Renderer, _ string) template.HTML {
		return r.RenderPolyfill()
	}, "")
}

// HTML renders a placeholder only.
func HTML() templ.Component {
	return component(func(r *renderer.Renderer, _ string) template.HTML {
		return r.RenderHTML()
	}, "")
}

// Scripts renders the bootstrap block unless it was already emitted.
func Scripts(lang, nonce string) templ.Component {
	return component(func(r *renderer.Renderer, nonce string) template.HTML {
		return r.RenderScripts(lang, nonce)
	}, nonce)
}

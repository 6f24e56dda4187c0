package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/conneroisu/invisible-recaptcha/internal/directives"
	"github.com/conneroisu/invisible-recaptcha/internal/middleware"
	"github.com/conneroisu/invisible-recaptcha/internal/renderer"
	"github.com/conneroisu/invisible-recaptcha/internal/validation"
	"github.com/conneroisu/invisible-recaptcha/internal/verifier"
)

// submitRules are the validation rules of the demo form.
var submitRules = map[string][]string{
	"name":              validation.ParseRules(validation.RequiredRuleName),
	verifier.TokenField: validation.ParseRules(validation.CaptchaRuleName),
}

// language picks the widget language: an explicit hl query parameter, then
// Accept-Language.
func language(r *http.Request) string {
	if hl := strings.TrimSpace(r.URL.Query().Get("hl")); hl != "" {
		if lang := renderer.PreferredLanguage(hl, supportedLanguages); lang != "" {
			return lang
		}
	}
	return renderer.PreferredLanguage(r.Header.Get("Accept-Language"), supportedLanguages)
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	rr, ok := renderer.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tmpl, err := pageTemplate.Clone()
	if err != nil {
		s.logger.Error(r.Context(), err, "cloning page template")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	tmpl.Funcs(directives.FuncMap(rr))

	data.Lang = language(r)
	data.Nonce = middleware.NonceFromRequest(r)

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		s.logger.Error(r.Context(), err, "rendering page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, pageData{})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	result := s.validator.Validate(r, submitRules)
	for _, err := range result.Errors {
		s.errs.Handle(r.Context(), err)
	}

	data := pageData{Name: r.FormValue("name")}
	if result.Fails() {
		data.Failed = result.Failed
		s.renderPage(w, r, http.StatusUnprocessableEntity, data)
		return
	}

	data.Submitted = true
	s.renderPage(w, r, http.StatusOK, data)
}

type apiResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// handleAPISubmit runs behind RequireCaptcha, so reaching it means the
// token verified.
func (s *Server) handleAPISubmit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	email := strings.TrimSpace(r.FormValue("email"))
	if email == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(apiResponse{Message: "email is required"})
		return
	}

	_ = json.NewEncoder(w).Encode(apiResponse{OK: true, Message: "subscribed"})
}

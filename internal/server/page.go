package server

import (
	"html/template"

	"github.com/conneroisu/invisible-recaptcha/internal/directives"
)

// supportedLanguages are the widget languages the demo page negotiates.
var supportedLanguages = []string{"en", "de", "es", "fr", "it", "ja", "nl", "pt-BR", "zh-CN"}

type pageData struct {
	Lang      string
	Nonce     string
	Name      string
	Submitted bool
	Failed    map[string][]string
}

// pageTemplate is parsed with renderer-less directives; handlers clone it
// and bind the request's renderer before executing.
var pageTemplate = template.Must(template.New("page").Funcs(directives.FuncMap(nil)).Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<title>Invisible reCAPTCHA</title>
<script nonce="{{.Nonce}}">
window._beforeSubmit = function (e) { return e.target.checkValidity(); };
</script>
</head>
<body>
{{if .Submitted}}<p class="result">Thanks, {{.Name}}. Your submission was accepted.</p>
{{end}}{{with .Failed}}<ul class="errors">
{{range $field, $rules := .}}<li>{{$field}}: {{range $rules}}{{.}} {{end}}</li>
{{end}}</ul>
{{end}}<form method="post" action="/submit">
<label>Name <input name="name" value="{{.Name}}" required></label>
{{captcha .Lang .Nonce}}<button type="submit">Send</button>
</form>
<form method="post" action="/api/submit">
<label>Email <input name="email" type="email" required></label>
{{captcha .Lang .Nonce}}<button type="submit">Subscribe</button>
</form>
</body>
</html>
`))

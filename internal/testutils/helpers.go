// Package testutils holds fixtures shared by the package tests: captcha
// configurations, a fake siteverify endpoint and markup inspection helpers.
package testutils

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
)

const (
	TestSiteKey   = "SK"
	TestSecretKey = "SEC"
)

// NewTestCaptcha returns a configuration with the test keys and default
// options adjusted by mutate.
func NewTestCaptcha(t testing.TB, mutate ...func(*config.Options)) *config.Captcha {
	t.Helper()

	opts := config.DefaultOptions()
	for _, m := range mutate {
		m(&opts)
	}

	c, err := config.NewCaptcha(TestSiteKey, TestSecretKey, opts)
	require.NoError(t, err)
	return c
}

// SiteverifyServer is a fake verification endpoint that records every form
// it receives.
type SiteverifyServer struct {
	*httptest.Server

	mu     sync.Mutex
	status int
	body   string
	calls  []url.Values
}

// NewSiteverifyServer starts a fake endpoint answering 200 with body. It is
// closed when the test ends.
func NewSiteverifyServer(t testing.TB, body string) *SiteverifyServer {
	t.Helper()

	s := &SiteverifyServer{status: http.StatusOK, body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *SiteverifyServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(raw))

	s.mu.Lock()
	s.calls = append(s.calls, form)
	status, body := s.status, s.body
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// SetResponse changes the status and body of later answers.
func (s *SiteverifyServer) SetResponse(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

// VerifyURL is the endpoint URL to configure as Options.VerifyURL.
func (s *SiteverifyServer) VerifyURL() string {
	return s.URL + "/recaptcha/api/siteverify"
}

// Calls returns the forms received so far.
func (s *SiteverifyServer) Calls() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.calls...)
}

// CallCount returns how many requests were received.
func (s *SiteverifyServer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// ParseFragment parses markup as the content of a <body> element.
func ParseFragment(t testing.TB, markup string) []*html.Node {
	t.Helper()

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	require.NoError(t, err)
	return nodes
}

// FindElements returns every element named tag in markup, in document
// order, including those nested in other elements.
func FindElements(t testing.TB, markup, tag string) []*html.Node {
	t.Helper()

	var found []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			found = append(found, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range ParseFragment(t, markup) {
		walk(n)
	}
	return found
}

// Attr returns the value of the named attribute.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// ScriptInjection provides values that must never reach the page unescaped.
var ScriptInjection = []string{
	"</script><script>alert('xss')</script>",
	"\"><img src=x onerror=alert('xss')>",
	"'; alert('xss'); '",
	"javascript:alert('xss')",
	"<svg onload=alert('xss')>",
}

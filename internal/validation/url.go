package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL validates the endpoint URLs a deployment may override
// (loader script, polyfill, siteverify). Only absolute http/https URLs
// without a fragment or markup-breaking characters are accepted, since the
// values are interpolated into script tags and outbound requests. A query
// string is allowed; the loader merges its own parameters into it.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	dangerous := []string{";", "|", "`", "$", "(", ")", "<", ">", "\"", "'", "\\", "\n", "\r"}
	for _, char := range dangerous {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("URL contains dangerous character: %s", char)
		}
	}

	if strings.Contains(rawURL, " ") {
		return fmt.Errorf("URL contains spaces")
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	if parsed.Fragment != "" || strings.Contains(rawURL, "#") {
		return fmt.Errorf("URL must not carry a fragment")
	}

	return nil
}

package renderer

import (
	"golang.org/x/text/language"
)

// PreferredLanguage picks the best entry of supported for an Accept-Language
// header value. It returns "" when nothing matches, which renders the widget
// in the vendor's own choice of language.
func PreferredLanguage(acceptLanguage string, supported []string) string {
	if acceptLanguage == "" || len(supported) == 0 {
		return ""
	}

	desired, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(desired) == 0 {
		return ""
	}

	tags := make([]language.Tag, 0, len(supported))
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			tag = language.Und
		}
		tags = append(tags, tag)
	}

	_, index, confidence := language.NewMatcher(tags).Match(desired...)
	if confidence == language.No {
		return ""
	}
	return supported[index]
}

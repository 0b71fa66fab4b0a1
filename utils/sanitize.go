package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// operator-entered labels are plain text; strip all markup
var sanitizer = bluemonday.StrictPolicy()

// entity-encoded input is decoded before sanitizing, so angle brackets left
// after decoding the sanitized text can only be literal text and are dropped
var angleBrackets = strings.NewReplacer("<", "", ">", "")

// SanitizeText strips HTML and surrounding whitespace, then truncates to max runes (0 = no limit).
func SanitizeText(input string, max int) string {
	s := sanitizer.Sanitize(html.UnescapeString(input))
	s = strings.TrimSpace(angleBrackets.Replace(html.UnescapeString(s)))
	if max > 0 {
		if r := []rune(s); len(r) > max {
			s = string(r[:max])
		}
	}
	return s
}

// Package transform holds the text utilities applied to signaling payloads and
// session descriptions.
package transform

import (
	"html"
	"regexp"
)

// tagPattern matches one tag span. A span cannot contain another '<' or '>',
// so stray brackets outside a span are kept as text.
var tagPattern = regexp.MustCompile(`<[^<>]*>`)

// StripMarkup removes HTML/XML tags from text and unescapes entity references.
// Entities are unescaped after tag removal so that "&lt;b&gt;" survives as "<b>".
func StripMarkup(text string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(text, ""))
}

// FirstMatch returns the first capture group of the leftmost match of pattern
// in text. It reports false when nothing matches or the pattern has no group.
func FirstMatch(pattern *regexp.Regexp, text string) (string, bool) {
	if pattern.NumSubexp() < 1 {
		return "", false
	}
	m := pattern.FindStringSubmatchIndex(text)
	if m == nil || m[2] < 0 {
		return "", false
	}
	return text[m[2]:m[3]], true
}

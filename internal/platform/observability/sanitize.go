package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxRouteLen      = 180
	maxMethodLen     = 10
	maxIdentifierLen = 128
	maxFieldLen      = 256
)

// SanitizeRoute prepares a request path or chi pattern for a log field.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(stripControl(route, true), maxRouteLen)
}

// SanitizeMethod prepares an HTTP method for a log field.
func SanitizeMethod(method string) string {
	return clip(stripControl(method, true), maxMethodLen)
}

// SanitizeIdentifier drops every control character, newlines included, from
// client supplied ids such as session ids and caps them at 128 runes.
func SanitizeIdentifier(id string) string {
	return clip(stripControl(id, false), maxIdentifierLen)
}

// sanitizeString keeps whitespace controls and drops the rest.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLen
	}
	return clip(stripControl(value, true), limit)
}

func stripControl(value string, keepWhitespace bool) string {
	return strings.Map(func(r rune) rune {
		if !unicode.IsControl(r) {
			return r
		}
		if keepWhitespace && (r == '\n' || r == '\r' || r == '\t') {
			return r
		}
		return -1
	}, value)
}

func clip(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

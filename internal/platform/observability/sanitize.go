package observability

import (
	"strings"
	"unicode"
)

const (
	maxFieldLen  = 256
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUserIDLen = 64
)

// sanitizeString strips control characters that could break log lines and
// caps the value at limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLen
	}

	var b strings.Builder
	b.Grow(len(value))
	n := 0
	for _, r := range value {
		switch {
		case r == '\n', r == '\r', r == '\t':
		case unicode.IsControl(r):
			continue
		}
		b.WriteRune(r)
		n++
		if n >= limit {
			break
		}
	}
	return b.String()
}

// SanitizeRoute normalises a chi route pattern for log fields.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, maxRouteLen)
}

// SanitizeMethod normalises an HTTP method for log fields.
func SanitizeMethod(method string) string {
	return sanitizeString(method, maxMethodLen)
}

// SanitizeUserID caps identifiers logged alongside requests.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, maxUserIDLen)
}

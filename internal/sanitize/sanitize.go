// Package sanitize cleans untrusted form values before they reach an email
// header or body.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	lineBreaks   = regexp.MustCompile(`[\r\n]+`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Sanitize collapses every run of CR/LF characters into a single space and
// trims surrounding whitespace. The result never contains '\r' or '\n'.
func Sanitize(s string) string {
	return strings.TrimSpace(lineBreaks.ReplaceAllString(s, " "))
}

// IsValidEmail reports whether s has the coarse shape local@domain.tld.
// It is a syntactic check only; exotic RFC 5322 addresses may be rejected.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

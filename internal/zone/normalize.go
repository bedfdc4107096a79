package zone

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s and strips combining diacritical marks, so that
// "Cetățea" and "cetatea" compare equal. Empty input yields "".
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// transform.Chain is stateful; build one per call so Normalize stays
	// safe for concurrent use.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

package export

import (
	"strings"
	"unicode"
)

// authGatedRepairs are encodings of "auth-gated" seen after its non-breaking
// hyphen went through a lossy conversion
var authGatedRepairs = strings.NewReplacer(
	"auth\ufffdgated", "auth-gated",
	"auth\u00e2\u0080\u0091gated", "auth-gated",
	"auth\u00e2\u20ac\u2018gated", "auth-gated",
	"auth\u2011gated", "auth-gated",
	"auth\u2010gated", "auth-gated",
	"auth\u00adgated", "auth-gated",
)

// SanitizeText makes s safe to place in a PDF: known corrupted sequences are
// repaired, Unicode hyphens become '-', and control (except tab, newline and
// carriage return), replacement, zero-width and private-use characters are
// dropped.
func SanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "\ufffd")
	s = authGatedRepairs.Replace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r == '\u2010' || r == '\u2011':
			return '-'
		case dropRune(r):
			return -1
		}
		return r
	}, s)
}

func dropRune(r rune) bool {
	switch r {
	case unicode.ReplacementChar, '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return unicode.IsControl(r) || unicode.Is(unicode.Co, r)
}

package scheduler

import (
	"regexp"
	"strings"
	"unicode"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// normalizeSearchText uppercases the input, replaces everything outside
// the Spanish letter set with blanks, and collapses runs of whitespace.
// Street names are stored in exactly this form, so search texts must be
// normalized the same way to match.
func normalizeSearchText(raw string) string {
	upper := strings.ToUpper(raw)
	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		if isSpanishLetter(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isSpanishLetter(r rune) bool {
	if r >= 'A' && r <= 'Z' {
		return true
	}
	switch r {
	case 'Ñ', 'Á', 'É', 'Í', 'Ó', 'Ú':
		return true
	}
	return false
}

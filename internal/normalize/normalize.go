// Package normalize canonicalizes free-text work-item descriptions before
// similarity comparison.
package normalize

import (
	"strings"
	"unicode"
)

// Punctuation kept because it carries meaning in construction descriptions:
// hyphens in compound terms ("pre-cast"), slashes in concrete grades
// ("C35/45"), dots inside dimensions ("12.5mm").
func keepRune(r rune, prev, next rune) bool {
	switch r {
	case '-', '/':
		return isWordRune(prev) && isWordRune(next)
	case '.':
		return unicode.IsDigit(prev) && unicode.IsDigit(next)
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Normalize lower-cases text, strips punctuation outside the allow-list,
// collapses whitespace runs to a single space, and trims. It is pure and
// total: empty or whitespace-only input yields "".
func Normalize(text string) string {
	text = strings.ToLower(text)
	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := true
	for i, r := range runes {
		switch {
		case isWordRune(r):
			b.WriteRune(r)
			wasSpace = false
		case unicode.IsSpace(r):
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		default:
			var prev, next rune
			if i > 0 {
				prev = runes[i-1]
			}
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			if keepRune(r, prev, next) {
				b.WriteRune(r)
				wasSpace = false
			} else if !wasSpace {
				// Dropped punctuation still separates tokens.
				b.WriteRune(' ')
				wasSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens splits normalized text into distinct tokens of length >= 2,
// preserving first-occurrence order. Input that is not yet normalized is
// normalized first.
func Tokens(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	fields := strings.Fields(text)
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

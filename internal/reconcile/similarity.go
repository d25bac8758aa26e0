package reconcile

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// containmentSimilarity is assigned when one name contains the other.
const containmentSimilarity = 0.9

// NameSimilarity compares two counterpart names in [0, 1]. Names are compared
// upper-cased, trimmed and with accents folded; containment scores 0.9.
func NameSimilarity(a, b string) float64 {
	n1, n2 := normalizeName(a), normalizeName(b)
	if n1 == "" || n2 == "" {
		return 0
	}
	if strings.Contains(n1, n2) || strings.Contains(n2, n1) {
		return containmentSimilarity
	}
	return levenshtein.RatioForStrings([]rune(n1), []rune(n2), levenshtein.DefaultOptions)
}

func normalizeName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

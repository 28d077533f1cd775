package dedup

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity is 1 minus the Levenshtein distance over the longer string's rune length. Identical
// strings score 1; two empty strings score 1.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

package domain

import (
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// Similarity returns the SequenceMatcher ratio of a and b over their runes, with the default
// autojunk heuristic: twice the matched runes over the total rune count. Identical inputs
// score 1.0, disjoint inputs 0. The pair is put in a canonical order first so the result does
// not depend on argument order.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a > b {
		a, b = b, a
	}
	return difflib.NewMatcher(runeSeq(a), runeSeq(b)).Ratio()
}

// runeSeq splits s into one element per rune. Invalid bytes stay as their own one-byte
// element so distinct byte strings never compare equal.
func runeSeq(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for i := 0; i < len(s); {
		_, w := utf8.DecodeRuneInString(s[i:])
		out = append(out, s[i:i+w])
		i += w
	}
	return out
}

package util

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var fold = cases.Fold()

// NormalizeUsername maps visually identical usernames to one key:
// NFKC composition, case folding, surrounding whitespace trimmed.
func NormalizeUsername(s string) string {
	return fold.String(norm.NFKC.String(strings.TrimSpace(s)))
}

// Snippet returns at most n bytes of s without splitting a rune.
func Snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

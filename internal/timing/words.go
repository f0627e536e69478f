package timing

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Words splits text into highlightable words using Unicode word boundaries.
// Punctuation and whitespace are dropped; each CJK ideograph is a word.
func Words(text string) []string {
	var words []string
	state := -1
	rest := text
	for len(rest) > 0 {
		var word string
		word, rest, state = uniseg.FirstWordInString(rest, state)
		if strings.IndexFunc(word, isWordRune) >= 0 {
			words = append(words, word)
		}
	}
	return words
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

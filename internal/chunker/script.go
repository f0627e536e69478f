package chunker

import (
	"strings"
	"unicode"
)

// isCJK reports whether r belongs to a script that is written without spaces
// between sentences: Han, kana, hangul and the CJK punctuation blocks.
func isCJK(r rune) bool {
	switch {
	case r >= 0x3000 && r <= 0x303f:
		return true
	case r >= 0xff00 && r <= 0xffef:
		return true
	}
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// countsAsWord matches the ranges counted one-per-character by CountWords.
func countsAsWord(r rune) bool {
	switch {
	case r >= 0x4e00 && r <= 0x9fff:
	case r >= 0x3400 && r <= 0x4dbf:
	case r >= 0x3040 && r <= 0x309f:
	case r >= 0x30a0 && r <= 0x30ff:
	case r >= 0xac00 && r <= 0xd7af:
	default:
		return false
	}
	return true
}

func isHardLatin(r rune) bool { return r == '.' || r == '!' || r == '?' }

func isHardCJK(r rune) bool { return r == '。' || r == '！' || r == '？' }

func isSoftLatin(r rune) bool { return r == ',' || r == ';' || r == ':' }

func isSoftCJK(r rune) bool { return r == '，' || r == '；' || r == '：' }

const closers = "\"')]}»’”」』）】〉》"

func isCloser(r rune) bool { return strings.ContainsRune(closers, r) }

// skipClosers advances past closing quotes and brackets so a boundary never
// separates them from the terminator they follow.
func skipClosers(r []rune, i, hi int) int {
	for i < hi && isCloser(r[i]) {
		i++
	}
	return i
}

var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {}, "st": {},
	"vs": {}, "e.g": {}, "i.e": {}, "cf": {}, "fig": {}, "approx": {},
}

// isAbbreviation reports whether the word ending just before the period at
// r[dot] is a common abbreviation such as "Dr" or "e.g".
func isAbbreviation(r []rune, lo, dot int) bool {
	start := dot
	for start > lo && !unicode.IsSpace(r[start-1]) && r[start-1] != '(' {
		start--
	}
	if start == dot {
		return false
	}
	word := strings.ToLower(string(r[start:dot]))
	_, ok := abbreviations[word]
	return ok
}

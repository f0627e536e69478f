// Package normalize turns markdown or plain text into the readable form that
// is chunked and sent to the speech engine.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/loqalabs/readaloud/internal/errs"
	"golang.org/x/text/unicode/norm"
)

// Format names the markup of an incoming document.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPlain    Format = "plain"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

var markdownRules = []rule{
	{regexp.MustCompile("```[\\s\\S]*?```"), ""},
	{regexp.MustCompile("~~~[\\s\\S]*?~~~"), ""},
	{regexp.MustCompile("`[^`\n]+`"), ""},
	{regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`), ""},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`), ""},
	{regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`), ""},
	{regexp.MustCompile(`(?m)[ \t]+#+[ \t]*$`), ""},
	{regexp.MustCompile(`\*\*([^*]+)\*\*`), "$1"},
	{regexp.MustCompile(`\*([^*\n]+)\*`), "$1"},
	{regexp.MustCompile(`__([^_]+)__`), "$1"},
	{regexp.MustCompile(`(^|[^\pL\pN_])_([^_\n]+)_([^\pL\pN_]|$)`), "${1}${2}${3}"},
	{regexp.MustCompile(`~~([^~]+)~~`), "$1"},
	{regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*\d+[.)][ \t]+`), ""},
}

var (
	urlPattern       = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.\-]*://[^\s)\]]+`)
	emptyBrackets    = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
	repeatedSpace    = regexp.MustCompile(`[ \t\f\v\x{00a0}]{2,}`)
	spaceBeforePunct = regexp.MustCompile(`[ \t]+([.,;:!?])`)
	trailingSpace    = regexp.MustCompile(`(?m)[ \t]+$`)
	leadingSpace     = regexp.MustCompile(`(?m)^[ \t]+`)
	blankLines       = regexp.MustCompile(`\n{2,}`)
	carriageReturns  = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// Markdown strips markdown syntax from raw and returns readable text with
// paragraphs separated by a single newline.
func Markdown(raw string) (string, error) {
	text := carriageReturns.Replace(raw)
	for _, r := range markdownRules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return finish(text)
}

// Plain applies the whitespace and URL cleanup used for markdown to plain text.
func Plain(raw string) (string, error) {
	return finish(carriageReturns.Replace(raw))
}

// Text dispatches on format.
func Text(raw string, format Format) (string, error) {
	if format == FormatPlain {
		return Plain(raw)
	}
	return Markdown(raw)
}

func finish(text string) (string, error) {
	text = urlPattern.ReplaceAllString(text, "")
	text = emptyBrackets.ReplaceAllString(text, "")
	text = repeatedSpace.ReplaceAllString(text, " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = trailingSpace.ReplaceAllString(text, "")
	text = leadingSpace.ReplaceAllString(text, "")
	text = blankLines.ReplaceAllString(text, "\n")
	text = norm.NFC.String(strings.TrimSpace(text))
	if !readable(text) {
		return "", &errs.InvalidInputError{Reason: "no readable text after normalization"}
	}
	return text, nil
}

func readable(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

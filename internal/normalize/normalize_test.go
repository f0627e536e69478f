package normalize

import (
	"errors"
	"testing"

	"github.com/loqalabs/readaloud/internal/errs"
)

func TestMarkdownStripsFormatting(t *testing.T) {
	raw := "# Title\n\nSome **bold** and *italic* text with [a link](http://x.com) and `code`.\n\n\n\nNext paragraph at https://example.com/page now."
	got, err := Markdown(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := "Title\nSome bold and italic text with a link and.\nNext paragraph at now."
	if got != want {
		t.Fatalf("unexpected output:\n got: %q\nwant: %q", got, want)
	}
}

func TestMarkdownRemovesBlocksAndMarkers(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"fenced code": {"Intro.\n```go\nfmt.Println(1)\n```\nOutro.", "Intro.\nOutro."},
		"lists":       {"- one\n- two\n1. three\n> quote", "one\ntwo\nthree\nquote"},
		"image":       {"Look ![diagram](img/a.png) here.", "Look here."},
		"rule":        {"Above.\n\n---\n\nBelow.", "Above.\nBelow."},
		"underscores": {"call my_func_name now, _really_.", "call my_func_name now, really."},
		"heading h3":  {"### Deep heading\nBody.", "Deep heading\nBody."},
	}
	for name, tc := range cases {
		got, err := Markdown(tc.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", name, got, tc.want)
		}
	}
}

func TestMarkdownNFC(t *testing.T) {
	got, err := Markdown("Cafe\u0301 au lait.")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "Caf\u00e9 au lait." {
		t.Fatalf("expected composed form, got %q", got)
	}
}

func TestMarkdownEmptyIsInvalid(t *testing.T) {
	for _, in := range []string{"", "   \n\n", "```\nonly code\n```", "![img](a.png)"} {
		_, err := Markdown(in)
		if !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %q, got %v", in, err)
		}
	}
}

func TestPlainKeepsMarkdownCharacters(t *testing.T) {
	got, err := Plain("Visit https://a.b/c?d=1 today.\r\n\r\n*Bye*")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "Visit today.\n*Bye*" {
		t.Fatalf("unexpected plain output %q", got)
	}
}

func TestTextDispatch(t *testing.T) {
	got, err := Text("**x** marks", FormatMarkdown)
	if err != nil || got != "x marks" {
		t.Fatalf("markdown dispatch: %q %v", got, err)
	}
	got, err = Text("**x** marks", FormatPlain)
	if err != nil || got != "**x** marks" {
		t.Fatalf("plain dispatch: %q %v", got, err)
	}
}

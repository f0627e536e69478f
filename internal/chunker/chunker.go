// Package chunker splits normalized text into engine-sized chunks without
// breaking sentences, words or grapheme clusters.
package chunker

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// DefaultMaxChars bounds the display width of a chunk when callers pass zero.
const DefaultMaxChars = 800

// Chunk is a contiguous run of normalized text synthesized in one engine call.
// CharStart and CharEnd are rune offsets into the text given to Split.
type Chunk struct {
	Index     int
	Text      string
	CharStart int
	CharEnd   int
}

// Span is a sentence or clause located by rune offsets in its source text.
type Span struct {
	Text  string
	Start int
	End   int
}

// Width is the measure compared against the chunk limit: the terminal display
// width, in which a CJK character counts twice as much as a Latin letter.
func Width(s string) int {
	return uniseg.StringWidth(s)
}

// Collapse trims s and replaces every run of whitespace with one space.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Split packs the sentences of text greedily into chunks whose Width does not
// exceed maxChars. A sentence over the limit is split at clause punctuation; a
// clause still over the limit becomes a chunk of its own.
func Split(text string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	src := newSource(text)

	var pieces []Span
	for _, sentence := range src.sentences() {
		if Width(sentence.Text) <= maxChars {
			pieces = append(pieces, sentence)
			continue
		}
		pieces = append(pieces, src.clauses(sentence)...)
	}

	var (
		chunks []Chunk
		cur    []Span
		width  int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		start, end := cur[0].Start, cur[len(cur)-1].End
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      Collapse(string(src.r[start:end])),
			CharStart: start,
			CharEnd:   end,
		})
		cur = cur[:0]
		width = 0
	}

	for _, piece := range pieces {
		w := Width(piece.Text)
		if len(cur) > 0 {
			sep := 0
			if src.spaced(cur[len(cur)-1].End, piece.Start) {
				sep = 1
			}
			if width+sep+w <= maxChars {
				cur = append(cur, piece)
				width += sep + w
				continue
			}
			flush()
		}
		cur = append(cur, piece)
		width = w
	}
	flush()
	return chunks
}

// Join reassembles chunk texts, inserting a space only where the source had
// whitespace between them. Join(Split(t, n)) == Collapse(t).
func Join(chunks []Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 && chunks[i-1].CharEnd != c.CharStart {
			b.WriteByte(' ')
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

// Sentences returns the sentences of text using the same boundary rules as Split.
func Sentences(text string) []Span {
	return newSource(text).sentences()
}

type source struct {
	r        []rune
	boundary []bool
}

func newSource(text string) *source {
	r := []rune(text)
	boundary := make([]bool, len(r)+1)
	pos := 0
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		boundary[pos] = true
		pos += len(g.Runes())
	}
	boundary[len(r)] = true
	return &source{r: r, boundary: boundary}
}

// snap moves i forward to the next grapheme cluster boundary.
func (s *source) snap(i int) int {
	for i < len(s.r) && !s.boundary[i] {
		i++
	}
	return i
}

func (s *source) spaced(end, start int) bool {
	for i := end; i < start; i++ {
		if unicode.IsSpace(s.r[i]) {
			return true
		}
	}
	return false
}

func (s *source) span(spans []Span, start, end int) []Span {
	for start < end && unicode.IsSpace(s.r[start]) {
		start++
	}
	for end > start && unicode.IsSpace(s.r[end-1]) {
		end--
	}
	if start == end {
		return spans
	}
	return append(spans, Span{Text: Collapse(string(s.r[start:end])), Start: start, End: end})
}

// sentences scans for hard boundaries. Latin terminators need whitespace, the
// end of text or a following CJK character; CJK terminators end a sentence
// on their own. Line breaks separate paragraphs and always end a sentence.
func (s *source) sentences() []Span {
	r := s.r
	n := len(r)
	var spans []Span
	start := 0
	for i := 0; i < n; {
		c := r[i]
		switch {
		case c == '\n':
			spans = s.span(spans, start, i)
			i++
			start = i
			continue
		case isHardCJK(c):
			end := s.snap(skipClosers(r, i+1, n))
			spans = s.span(spans, start, end)
			start, i = end, end
			continue
		case isHardLatin(c):
			j := i + 1
			for j < n && isHardLatin(r[j]) {
				j++
			}
			j = s.snap(skipClosers(r, j, n))
			if j-i == 1 && c == '.' && isAbbreviation(r, start, i) {
				i = j
				continue
			}
			if j == n || unicode.IsSpace(r[j]) || isCJK(r[j]) {
				spans = s.span(spans, start, j)
				start, i = j, j
				continue
			}
			i = j
			continue
		}
		i++
	}
	return s.span(spans, start, n)
}

// clauses splits one sentence at soft boundaries.
func (s *source) clauses(sentence Span) []Span {
	r := s.r
	hi := sentence.End
	var spans []Span
	start := sentence.Start
	for i := sentence.Start; i < hi; i++ {
		c := r[i]
		switch {
		case isSoftCJK(c):
			end := s.snap(skipClosers(r, i+1, hi))
			if end > hi {
				end = hi
			}
			spans = s.span(spans, start, end)
			start = end
			i = end - 1
		case isSoftLatin(c) && (i+1 == hi || unicode.IsSpace(r[i+1])):
			spans = s.span(spans, start, i+1)
			start = i + 1
		}
	}
	return s.span(spans, start, hi)
}

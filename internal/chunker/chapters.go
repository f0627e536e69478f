package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	DefaultAutoChunkWords = 5000
	DefaultMinHeadings    = 2
	introductionTitle     = "Introduction"
)

var (
	chapterHeading = regexp.MustCompile(`(?m)^#{1,2}[ \t]+(.+?)[ \t#]*$`)
	fenceLine      = regexp.MustCompile("(?m)^[ \t]{0,3}(`{3,}|~{3,})")
)

// Chapter is one section of a long markdown document. Content keeps the
// heading line.
type Chapter struct {
	Title     string
	Content   string
	WordCount int
}

// AutoChunk decides when an imported document is split into a book.
type AutoChunk struct {
	WordThreshold int
	MinHeadings   int
}

// Applies reports whether markdown is long enough and has enough level one or
// two headings to be split into chapters.
func (a AutoChunk) Applies(markdown string) bool {
	threshold := a.WordThreshold
	if threshold <= 0 {
		threshold = DefaultAutoChunkWords
	}
	minHeadings := a.MinHeadings
	if minHeadings <= 0 {
		minHeadings = DefaultMinHeadings
	}
	if len(headings(markdown)) < minHeadings {
		return false
	}
	return CountWords(markdown) >= threshold
}

// ShouldAutoChunk applies the default heading requirement with the given word threshold.
func ShouldAutoChunk(markdown string, wordThreshold int) bool {
	return AutoChunk{WordThreshold: wordThreshold, MinHeadings: DefaultMinHeadings}.Applies(markdown)
}

// SplitChapters splits markdown at "#" and "##" headings. Text before the first
// heading becomes an "Introduction" chapter; a document without headings is a
// single "Introduction" chapter holding the whole text.
func SplitChapters(markdown string) []Chapter {
	matches := headings(markdown)
	if len(matches) == 0 {
		return []Chapter{{Title: introductionTitle, Content: markdown, WordCount: CountWords(markdown)}}
	}

	var chapters []Chapter
	if intro := strings.TrimSpace(markdown[:matches[0][0]]); intro != "" {
		chapters = append(chapters, Chapter{Title: introductionTitle, Content: intro, WordCount: CountWords(intro)})
	}
	for i, m := range matches {
		end := len(markdown)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(markdown[m[0]:end])
		chapters = append(chapters, Chapter{
			Title:     strings.TrimSpace(markdown[m[2]:m[3]]),
			Content:   content,
			WordCount: CountWords(content),
		})
	}
	return chapters
}

// FirstHeading returns the text of the first "#" heading outside code
// fences, or "".
func FirstHeading(markdown string) string {
	fenced := fencedRanges(markdown)
	offset := 0
	for _, line := range strings.SplitAfter(markdown, "\n") {
		start := offset
		offset += len(line)
		if inRanges(fenced, start) {
			continue
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// headings returns the submatch indexes of chapter headings that are not
// inside a fenced code block.
func headings(markdown string) [][]int {
	matches := chapterHeading.FindAllStringSubmatchIndex(markdown, -1)
	fenced := fencedRanges(markdown)
	if len(fenced) == 0 {
		return matches
	}
	kept := matches[:0]
	for _, m := range matches {
		if !inRanges(fenced, m[0]) {
			kept = append(kept, m)
		}
	}
	return kept
}

// fencedRanges returns the byte ranges of ``` and ~~~ code blocks, fence
// lines included. An unclosed fence runs to the end of the document.
func fencedRanges(markdown string) [][2]int {
	var (
		ranges    [][2]int
		openStart = -1
		openFence string
	)
	for _, m := range fenceLine.FindAllStringSubmatchIndex(markdown, -1) {
		fence := markdown[m[2]:m[3]]
		if openStart < 0 {
			openStart, openFence = m[0], fence
			continue
		}
		if fence[0] != openFence[0] || len(fence) < len(openFence) {
			continue
		}
		end := len(markdown)
		if nl := strings.IndexByte(markdown[m[1]:], '\n'); nl >= 0 {
			end = m[1] + nl
		}
		ranges = append(ranges, [2]int{openStart, end})
		openStart = -1
	}
	if openStart >= 0 {
		ranges = append(ranges, [2]int{openStart, len(markdown)})
	}
	return ranges
}

func inRanges(ranges [][2]int, pos int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}

// CountWords counts each CJK ideograph, kana and hangul syllable as a word,
// plus every whitespace-separated token elsewhere that holds a letter or digit.
func CountWords(text string) int {
	count := 0
	var b strings.Builder
	for _, r := range text {
		if countsAsWord(r) {
			count++
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	for _, field := range strings.Fields(b.String()) {
		if strings.IndexFunc(field, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			count++
		}
	}
	return count
}

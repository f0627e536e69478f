package timing

import (
	"context"
	"math"
	"strings"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/errs"
)

// WordSpan is one word recognized by an aligner, in seconds relative to the
// start of the audio it was given.
type WordSpan struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"score"`
}

// Aligner recovers word timestamps from synthesized audio and its text.
type Aligner interface {
	Align(ctx context.Context, samples []float32, sampleRate int, text, language string) ([]WordSpan, error)
}

const (
	// searchAhead bounds how far past the expected position a recognized
	// word may be matched. Words before the position are already consumed.
	searchAhead = 10

	// unmatchedSentence is the length given to a sentence none of whose words
	// were recognized.
	unmatchedSentence = 2.0
)

func align(ctx context.Context, a Aligner, language string, chunks []chunker.Chunk, track *audio.Track) (*Model, error) {
	model := &Model{Version: Version, AudioDuration: track.TotalDuration, Sentences: []Sentence{}}
	prevEnd := 0.0
	for i, chunk := range chunks {
		off := track.Offsets[i]
		spans, err := a.Align(ctx, track.Slice(off), track.SampleRate, chunk.Text, language)
		if err != nil {
			return nil, &errs.AlignmentError{ChunkIndex: i, Cause: err}
		}
		for k := range spans {
			spans[k].Start += off.Start
			spans[k].End += off.Start
		}
		sentences := matchSentences(chunker.Sentences(chunk.Text), spans, max(prevEnd, off.Start))
		clampSentences(sentences, max(prevEnd, off.Start), off.End)
		for _, s := range sentences {
			s.Index = len(model.Sentences)
			model.Sentences = append(model.Sentences, s)
		}
		if n := len(model.Sentences); n > 0 {
			prevEnd = model.Sentences[n-1].End
		}
	}
	if n := len(model.Sentences); n > 0 {
		model.Sentences[n-1].End = track.TotalDuration
	}
	return model, nil
}

// matchSentences walks the sentences in order, looking up each word in a
// window of recognized words around the current position.
func matchSentences(spans []chunker.Span, recognized []WordSpan, start float64) []Sentence {
	out := make([]Sentence, 0, len(spans))
	pos := 0
	prevEnd := start
	for _, span := range spans {
		words := Words(span.Text)
		timed := make([]Word, len(words))
		matched := make([]bool, len(words))
		for i, w := range words {
			timed[i] = Word{Word: w}
			hi := min(len(recognized), pos+len(words)+searchAhead)
			for j := pos; j < hi; j++ {
				if wordsMatch(w, recognized[j].Word) {
					r := recognized[j]
					timed[i].Start, timed[i].End = r.Start, r.End
					timed[i].Confidence = math.Min(math.Max(r.Confidence, 0), 1)
					matched[i] = true
					pos = j + 1
					break
				}
			}
		}

		s := Sentence{Text: span.Text, Start: prevEnd, End: prevEnd + unmatchedSentence}
		first := true
		for i := range timed {
			if !matched[i] {
				continue
			}
			if first {
				s.Start, s.End = timed[i].Start, timed[i].End
				first = false
				continue
			}
			s.Start = math.Min(s.Start, timed[i].Start)
			s.End = math.Max(s.End, timed[i].End)
		}
		s.Words = interpolate(timed, matched, s.Start, s.End)
		out = append(out, s)
		prevEnd = s.End
	}
	return out
}

// interpolate fills in words the aligner did not place: between two known
// words the gap is shared out evenly; at the edges the neighbouring word's
// duration is repeated.
func interpolate(words []Word, matched []bool, start, end float64) []Word {
	known := 0
	for _, m := range matched {
		if m {
			known++
		}
	}
	if known == 0 {
		return spreadWords(wordTexts(words), start, end, InterpolatedConfidence)
	}
	for i := range words {
		if matched[i] {
			continue
		}
		prev, next := -1, -1
		for j := i - 1; j >= 0; j-- {
			if matched[j] {
				prev = j
				break
			}
		}
		for j := i + 1; j < len(words); j++ {
			if matched[j] {
				next = j
				break
			}
		}
		w := &words[i]
		w.Confidence = InterpolatedConfidence
		switch {
		case prev >= 0 && next >= 0:
			gap := next - prev - 1
			dur := (words[next].Start - words[prev].End) / float64(gap+1)
			offset := float64(i - prev)
			w.Start = words[prev].End + (offset-0.5)*dur
			w.End = words[prev].End + (offset+0.5)*dur
		case prev >= 0:
			dur := words[prev].End - words[prev].Start
			w.Start = words[prev].End + float64(i-prev-1)*dur
			w.End = w.Start + dur
		default:
			dur := words[next].End - words[next].Start
			w.End = words[next].Start - float64(next-i-1)*dur
			w.Start = w.End - dur
		}
	}
	return words
}

// clampSentences forces sentences into [lo, hi] in order without overlap and
// keeps every word inside its sentence with non-decreasing starts.
func clampSentences(sentences []Sentence, lo, hi float64) {
	cursor := lo
	for i := range sentences {
		s := &sentences[i]
		s.Start = math.Min(math.Max(s.Start, cursor), hi)
		s.End = math.Min(math.Max(s.End, s.Start), hi)
		wordStart := s.Start
		for j := range s.Words {
			w := &s.Words[j]
			w.Start = math.Min(math.Max(w.Start, wordStart), s.End)
			w.End = math.Min(math.Max(w.End, w.Start), s.End)
			wordStart = w.Start
		}
		cursor = s.End
	}
}

const matchTrim = ".,!?;:'\"()-"

func wordsMatch(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return true
	}
	a, b = strings.Trim(a, matchTrim), strings.Trim(b, matchTrim)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if runeLen(a) > 2 && runeLen(b) > 2 {
		return strings.Contains(a, b) || strings.Contains(b, a)
	}
	return false
}

func wordTexts(words []Word) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.Word
	}
	return out
}

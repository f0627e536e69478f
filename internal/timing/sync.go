package timing

import "sort"

// Position is what should be highlighted at one instant of playback.
// Sentence is -1 only for a model without sentences; Word is -1 when t falls
// between words.
type Position struct {
	Sentence         int     `json:"sentence"`
	Word             int     `json:"word"`
	SentenceProgress float64 `json:"sentence_progress"`
	WordProgress     float64 `json:"word_progress"`
	TotalProgress    float64 `json:"total_progress"`
}

// Resolve maps playback time t to the active sentence and word. A time in a
// gap between sentences selects the following sentence; times outside the
// track select the first or last one.
func Resolve(m *Model, t float64) Position {
	pos := Position{Sentence: -1, Word: -1}
	if m.AudioDuration > 0 {
		pos.TotalProgress = clamp01(t / m.AudioDuration)
	}
	n := len(m.Sentences)
	if n == 0 {
		return pos
	}
	idx := sort.Search(n, func(i int) bool { return m.Sentences[i].End > t })
	if idx == n {
		idx = n - 1
	}
	s := m.Sentences[idx]
	pos.Sentence = idx
	pos.SentenceProgress = progress(s.Start, s.End, t)

	k := sort.Search(len(s.Words), func(i int) bool { return s.Words[i].End > t })
	if k < len(s.Words) && s.Words[k].Start <= t {
		pos.Word = k
		pos.WordProgress = progress(s.Words[k].Start, s.Words[k].End, t)
	}
	return pos
}

// WordState is where a word stands relative to the playback position.
type WordState int

const (
	WordFuture WordState = iota
	WordCurrent
	WordPast
)

func (s WordState) String() string {
	switch s {
	case WordCurrent:
		return "current"
	case WordPast:
		return "past"
	default:
		return "future"
	}
}

// WordHighlight is the display state of one word of a sentence.
type WordHighlight struct {
	State    WordState
	Progress float64
}

// WordStates classifies each word of s relative to playback time t.
func WordStates(s Sentence, t float64) []WordHighlight {
	out := make([]WordHighlight, len(s.Words))
	for i, w := range s.Words {
		switch {
		case t < w.Start:
			out[i] = WordHighlight{State: WordFuture}
		case t >= w.End:
			out[i] = WordHighlight{State: WordPast, Progress: 1}
		default:
			out[i] = WordHighlight{State: WordCurrent, Progress: progress(w.Start, w.End, t)}
		}
	}
	return out
}

// SentenceTime is the playback time at the given progress through sentence
// idx, used for seeking. Indexes past either end map to the track bounds.
func SentenceTime(m *Model, idx int, p float64) float64 {
	if idx < 0 || len(m.Sentences) == 0 {
		return 0
	}
	if idx >= len(m.Sentences) {
		return m.AudioDuration
	}
	s := m.Sentences[idx]
	return s.Start + (s.End-s.Start)*clamp01(p)
}

// ScaleForSpeed returns a copy of m with every time divided by speed, for
// playback at a rate other than 1. Non-positive speeds are treated as 1.
func ScaleForSpeed(m *Model, speed float64) *Model {
	if speed <= 0 {
		speed = 1
	}
	out := &Model{
		Version:       m.Version,
		AudioDuration: m.AudioDuration / speed,
		Sentences:     make([]Sentence, len(m.Sentences)),
	}
	for i, s := range m.Sentences {
		s.Start /= speed
		s.End /= speed
		words := make([]Word, len(s.Words))
		for j, w := range s.Words {
			w.Start /= speed
			w.End /= speed
			words[j] = w
		}
		s.Words = words
		out.Sentences[i] = s
	}
	return out
}

func progress(start, end, t float64) float64 {
	if end <= start {
		if t >= end {
			return 1
		}
		return 0
	}
	return clamp01((t - start) / (end - start))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

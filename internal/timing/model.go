// Package timing builds, stores and queries the sentence and word timing
// that drives highlighting during playback.
package timing

import (
	"fmt"
	"math"
)

const (
	// Version is the only timing file version this package reads and writes.
	Version = "1.0"

	// EstimatedConfidence marks words timed by proportional estimation. The
	// value is 1.0 for file compatibility; estimated times are not measured.
	EstimatedConfidence = 1.0

	// InterpolatedConfidence marks aligned words the aligner did not place.
	InterpolatedConfidence = 0.5

	// Epsilon absorbs float rounding when checking containment.
	Epsilon = 1e-6
)

// Word is the time span of one spoken word, in seconds from the start of
// the track.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Sentence is one sentence of the normalized text with its words in
// reading order.
type Sentence struct {
	Index int     `json:"sentence_index"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

// Model is the timing of one assembled track.
type Model struct {
	Version       string     `json:"version"`
	AudioDuration float64    `json:"audio_duration"`
	Sentences     []Sentence `json:"sentences"`
}

// Validate checks ordering and containment: sentences are ordered, do not
// overlap and lie inside the audio; words lie inside their sentence and
// their starts never decrease.
func (m *Model) Validate() error {
	if m.Version != Version {
		return fmt.Errorf("unsupported version %q", m.Version)
	}
	if !finite(m.AudioDuration) || m.AudioDuration < 0 {
		return fmt.Errorf("invalid audio duration %v", m.AudioDuration)
	}
	prevEnd := 0.0
	for i, s := range m.Sentences {
		if !finite(s.Start) || !finite(s.End) {
			return fmt.Errorf("sentence %d has non-finite times", i)
		}
		if s.End < s.Start {
			return fmt.Errorf("sentence %d ends before it starts (%v < %v)", i, s.End, s.Start)
		}
		if s.Start < prevEnd-Epsilon {
			return fmt.Errorf("sentence %d starts at %v before previous end %v", i, s.Start, prevEnd)
		}
		if s.Start < -Epsilon || s.End > m.AudioDuration+Epsilon {
			return fmt.Errorf("sentence %d [%v, %v] outside audio [0, %v]", i, s.Start, s.End, m.AudioDuration)
		}
		for j, w := range s.Words {
			if !finite(w.Start) || !finite(w.End) || w.End < w.Start {
				return fmt.Errorf("sentence %d word %d has invalid span [%v, %v]", i, j, w.Start, w.End)
			}
			if j > 0 && w.Start < s.Words[j-1].Start-Epsilon {
				return fmt.Errorf("sentence %d word %d starts at %v before word %d at %v", i, j, w.Start, j-1, s.Words[j-1].Start)
			}
			if w.Start < s.Start-Epsilon || w.End > s.End+Epsilon {
				return fmt.Errorf("sentence %d word %d [%v, %v] outside sentence [%v, %v]", i, j, w.Start, w.End, s.Start, s.End)
			}
			if w.Confidence < 0 || w.Confidence > 1 {
				return fmt.Errorf("sentence %d word %d confidence %v outside [0, 1]", i, j, w.Confidence)
			}
		}
		prevEnd = s.End
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

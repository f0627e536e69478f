package chunker

import (
	"time"
	"unicode/utf8"
)

// WordsPerMinute is the speaking rate assumed by EstimateDuration.
const WordsPerMinute = 150

// TextStats summarizes a normalized document before generation.
type TextStats struct {
	Characters        int
	Words             int
	Sentences         int
	Chunks            int
	EstimatedDuration time.Duration
}

func Stats(text string, maxChars int) TextStats {
	words := CountWords(text)
	return TextStats{
		Characters:        utf8.RuneCountInString(text),
		Words:             words,
		Sentences:         len(Sentences(text)),
		Chunks:            len(Split(text, maxChars)),
		EstimatedDuration: durationForWords(words),
	}
}

// EstimateDuration approximates speaking time at WordsPerMinute.
func EstimateDuration(text string) time.Duration {
	return durationForWords(CountWords(text))
}

func durationForWords(words int) time.Duration {
	return time.Duration(float64(words) / WordsPerMinute * float64(time.Minute))
}

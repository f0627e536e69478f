package timing

import (
	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/chunker"
)

// estimate distributes each chunk's audio over its sentences and words in
// proportion to their rune length.
func estimate(chunks []chunker.Chunk, track *audio.Track) *Model {
	model := &Model{Version: Version, AudioDuration: track.TotalDuration, Sentences: []Sentence{}}
	for i, chunk := range chunks {
		off := track.Offsets[i]
		spans := chunker.Sentences(chunk.Text)
		total := 0
		for _, s := range spans {
			total += runeLen(s.Text)
		}
		cursor := off.Start
		for j, s := range spans {
			end := off.End
			if j < len(spans)-1 && total > 0 {
				end = cursor + (off.End-off.Start)*float64(runeLen(s.Text))/float64(total)
			}
			model.Sentences = append(model.Sentences, Sentence{
				Index: len(model.Sentences),
				Text:  s.Text,
				Start: cursor,
				End:   end,
				Words: spreadWords(Words(s.Text), cursor, end, EstimatedConfidence),
			})
			cursor = end
		}
	}
	if n := len(model.Sentences); n > 0 {
		last := &model.Sentences[n-1]
		last.End = track.TotalDuration
		if k := len(last.Words); k > 0 {
			last.Words[k-1].End = track.TotalDuration
		}
	}
	return model
}

// spreadWords tiles [start, end] with words weighted by rune length.
func spreadWords(words []string, start, end float64, confidence float64) []Word {
	if len(words) == 0 {
		return []Word{}
	}
	total := 0
	for _, w := range words {
		total += runeLen(w)
	}
	out := make([]Word, len(words))
	cursor := start
	for i, w := range words {
		wEnd := end
		if i < len(words)-1 {
			wEnd = cursor + (end-start)*float64(runeLen(w))/float64(total)
		}
		out[i] = Word{Word: w, Start: cursor, End: wEnd, Confidence: confidence}
		cursor = wEnd
	}
	return out
}

// Package audio holds synthesized PCM segments and assembles them into a
// single track per document.
package audio

import (
	"fmt"

	"github.com/loqalabs/readaloud/internal/errs"
)

// Segment is the mono audio produced for one chunk.
type Segment struct {
	ChunkIndex int
	Samples    []float32
	SampleRate int
}

// Duration is the length of the segment in seconds.
func (s Segment) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// SegmentOffset places one chunk's audio inside a Track.
type SegmentOffset struct {
	ChunkIndex  int
	Start       float64
	End         float64
	StartSample int
	EndSample   int
}

// Track is the concatenation of every segment of a document at one sample rate.
type Track struct {
	SampleRate    int
	Samples       []float32
	TotalDuration float64
	Offsets       []SegmentOffset
}

// Assemble concatenates segments in chunk order, resampling those whose rate
// differs from targetRate. Segments must be indexed 0..n-1 without gaps.
// A targetRate of zero adopts the first segment's rate.
func Assemble(segments []Segment, targetRate int) (*Track, error) {
	if targetRate <= 0 {
		if len(segments) == 0 {
			return nil, &errs.AssemblyError{Reason: "no segments and no target sample rate"}
		}
		targetRate = segments[0].SampleRate
	}
	if targetRate <= 0 {
		return nil, &errs.AssemblyError{Reason: fmt.Sprintf("invalid target sample rate %d", targetRate)}
	}

	total := 0
	converted := make([][]float32, len(segments))
	for i, seg := range segments {
		if seg.ChunkIndex != i {
			return nil, &errs.AssemblyError{Reason: fmt.Sprintf("segment %d has chunk index %d", i, seg.ChunkIndex)}
		}
		if seg.SampleRate <= 0 {
			return nil, &errs.AssemblyError{Reason: fmt.Sprintf("segment %d has invalid sample rate %d", i, seg.SampleRate)}
		}
		samples := seg.Samples
		if seg.SampleRate != targetRate {
			samples = Resample(samples, seg.SampleRate, targetRate)
		}
		converted[i] = samples
		total += len(samples)
	}

	track := &Track{
		SampleRate: targetRate,
		Samples:    make([]float32, 0, total),
		Offsets:    make([]SegmentOffset, 0, len(segments)),
	}
	rate := float64(targetRate)
	for i, samples := range converted {
		start := len(track.Samples)
		track.Samples = append(track.Samples, samples...)
		end := len(track.Samples)
		track.Offsets = append(track.Offsets, SegmentOffset{
			ChunkIndex:  i,
			Start:       float64(start) / rate,
			End:         float64(end) / rate,
			StartSample: start,
			EndSample:   end,
		})
	}
	track.TotalDuration = float64(len(track.Samples)) / rate
	return track, nil
}

// Slice returns the samples of one chunk.
func (t *Track) Slice(o SegmentOffset) []float32 {
	return t.Samples[o.StartSample:o.EndSample]
}

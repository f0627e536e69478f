package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SegmentPath names the WAV file holding a persisted partial segment.
func SegmentPath(dir string, chunkIndex int) string {
	return filepath.Join(dir, fmt.Sprintf("%05d.wav", chunkIndex))
}

// SaveSegment persists one completed chunk so an interrupted run can resume.
func SaveSegment(dir string, seg Segment) error {
	if seg.SampleRate <= 0 {
		return fmt.Errorf("segment %d: invalid sample rate %d", seg.ChunkIndex, seg.SampleRate)
	}
	return WriteWAV(SegmentPath(dir, seg.ChunkIndex), seg.Samples, seg.SampleRate)
}

// LoadSegments reads the persisted segments 0..k-1 from dir, stopping at the
// first missing index or at limit. A missing dir yields no segments.
func LoadSegments(dir string, limit int) ([]Segment, error) {
	var segments []Segment
	for i := 0; i < limit; i++ {
		samples, rate, err := ReadWAV(SegmentPath(dir, i))
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, err
		}
		segments = append(segments, Segment{ChunkIndex: i, Samples: samples, SampleRate: rate})
	}
	return segments, nil
}

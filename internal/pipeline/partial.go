package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/fsutil"
	"github.com/loqalabs/readaloud/internal/tts"
)

const manifestFile = "manifest.json"

// manifest identifies the run a partial directory belongs to, so segments
// are never reused for different text or a different voice.
type manifest struct {
	Key    string `json:"key"`
	Chunks int    `json:"chunks"`
}

func runKey(chunks []chunker.Chunk, voice tts.Voice) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c.Text))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s", voice.Kind, voice.Speaker, voice.Language, voice.ReferenceAudio, voice.Transcript)
	return hex.EncodeToString(h.Sum(nil))
}

// resume loads the segments of a previous run of the same chunks and voice,
// discarding a partial directory that belongs to another run.
func (p *Pipeline) resume(opts Options, chunks []chunker.Chunk, voice tts.Voice) ([]audio.Segment, error) {
	if opts.PartialDir == "" {
		return nil, nil
	}
	want := manifest{Key: runKey(chunks, voice), Chunks: len(chunks)}
	path := filepath.Join(opts.PartialDir, manifestFile)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read partial manifest: %w", err)
	default:
		var have manifest
		if json.Unmarshal(data, &have) == nil && have == want {
			segments, err := audio.LoadSegments(opts.PartialDir, len(chunks))
			if err != nil {
				p.logger.Warn("discarding unreadable partial segments", slogError(err))
			} else {
				return segments, nil
			}
		} else {
			p.logger.Info("discarding partial segments of a different run", slog.String("dir", opts.PartialDir))
		}
		if err := os.RemoveAll(opts.PartialDir); err != nil {
			return nil, fmt.Errorf("clear partial dir: %w", err)
		}
	}

	if !opts.KeepPartial {
		return nil, nil
	}
	data, err = json.Marshal(want)
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("write partial manifest: %w", err)
	}
	return nil, nil
}

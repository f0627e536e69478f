package timing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/errs"
)

// Strategy selects how timing is produced for a generation. The zero value
// estimates.
type Strategy struct {
	aligner  Aligner
	language string
}

// Estimate spreads each chunk's audio over its sentences and words by rune
// length.
func Estimate() Strategy { return Strategy{} }

// Align asks a for word timestamps of each chunk in the given language.
func Align(a Aligner, language string) Strategy {
	return Strategy{aligner: a, language: language}
}

// Mode reports "estimate" or "align".
func (s Strategy) Mode() string {
	if s.aligner != nil {
		return "align"
	}
	return "estimate"
}

// StrategyFromConfig builds the strategy named by the alignment section.
func StrategyFromConfig(cfg config.AlignmentConfig, logger *slog.Logger) (Strategy, error) {
	switch cfg.Mode {
	case "", "estimate":
		return Estimate(), nil
	case "align":
		a, err := NewExecAligner(cfg.Command)
		if err != nil {
			return Strategy{}, err
		}
		logger.Info("word alignment enabled", slog.String("command", cfg.Command))
		return Align(a, cfg.Language), nil
	default:
		return Strategy{}, fmt.Errorf("unknown alignment mode %q", cfg.Mode)
	}
}

// Build produces the timing model of track, whose offsets must correspond
// one to one with chunks. The result always satisfies Validate.
func Build(ctx context.Context, s Strategy, chunks []chunker.Chunk, track *audio.Track) (*Model, error) {
	if track == nil || len(track.Offsets) != len(chunks) {
		return nil, &errs.AssemblyError{Reason: "track offsets do not match chunks"}
	}
	var (
		model *Model
		err   error
	)
	if s.aligner != nil {
		model, err = align(ctx, s.aligner, s.language, chunks, track)
		if err != nil {
			return nil, err
		}
		if err := model.Validate(); err != nil {
			return nil, &errs.AlignmentError{ChunkIndex: -1, Cause: err}
		}
		return model, nil
	}
	model = estimate(chunks, track)
	if err := model.Validate(); err != nil {
		return nil, &errs.AssemblyError{Reason: "estimated timing invalid: " + err.Error()}
	}
	return model, nil
}

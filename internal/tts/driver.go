package tts

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/errs"
)

// Result carries the audio for one chunk, or the error that ended the run.
type Result struct {
	ChunkIndex int
	Segment    audio.Segment
	Err        error
}

// Progress reports how many chunks of a run have audio.
type Progress struct {
	Completed int
	Total     int
}

// Driver feeds chunks to an Engine one at a time. Runs on the same Driver are
// serialized, so the engine never sees overlapping calls.
type Driver struct {
	engine       Engine
	mu           sync.Mutex
	chunkTimeout time.Duration
	logger       *slog.Logger
}

type DriverOption func(*Driver)

// WithChunkTimeout bounds a single engine call. Zero disables the bound.
func WithChunkTimeout(d time.Duration) DriverOption {
	return func(dr *Driver) { dr.chunkTimeout = d }
}

func WithLogger(logger *slog.Logger) DriverOption {
	return func(dr *Driver) { dr.logger = logger }
}

func NewDriver(engine Engine, opts ...DriverOption) *Driver {
	d := &Driver{
		engine: engine,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "tts-driver"))
	return d
}

// Engine returns the engine driven by d.
func (d *Driver) Engine() Engine { return d.engine }

// Run synthesizes chunks[from:] in order. Results arrive strictly in chunk
// order and the channel closes after the last chunk or the first error.
// Cancelling ctx stops the run at the next chunk boundary: a call already in
// progress completes and its result is delivered first. The caller must drain
// results; progress is buffered and may be ignored.
func (d *Driver) Run(ctx context.Context, chunks []chunker.Chunk, voice Voice, from int) (<-chan Result, <-chan Progress) {
	results := make(chan Result)
	progress := make(chan Progress, len(chunks)+1)

	go func() {
		defer close(results)
		defer close(progress)

		d.mu.Lock()
		defer d.mu.Unlock()

		total := len(chunks)
		if from < 0 {
			from = 0
		}
		progress <- Progress{Completed: from, Total: total}
		if from >= total {
			return
		}

		if !voice.Prepared() {
			prepared, err := d.engine.PrepareVoice(context.WithoutCancel(ctx), voice)
			if err != nil {
				d.logger.Error("voice preparation failed", slog.String("voice", voice.Name), slogError(err))
				results <- Result{ChunkIndex: from, Err: &errs.GenerationError{ChunkIndex: from, Cause: err}}
				return
			}
			voice = prepared
		}
		language := voice.Language

		for i := from; i < total; i++ {
			if err := ctx.Err(); err != nil {
				d.logger.Info("generation cancelled", slog.Int("next_chunk", i), slog.Int("total", total))
				results <- Result{ChunkIndex: i, Err: &errs.GenerationError{ChunkIndex: i, Cause: err}}
				return
			}

			started := time.Now()
			seg, err := d.synthesize(ctx, chunks[i].Text, voice, language)
			if err != nil {
				d.logger.Error("chunk synthesis failed", slog.Int("chunk", i), slogError(err))
				results <- Result{ChunkIndex: i, Err: &errs.GenerationError{ChunkIndex: i, Cause: err}}
				return
			}
			seg.ChunkIndex = i
			d.logger.Debug("chunk synthesized",
				slog.Int("chunk", i),
				slog.Float64("audio_seconds", seg.Duration()),
				slog.Duration("elapsed", time.Since(started)))

			results <- Result{ChunkIndex: i, Segment: seg}
			progress <- Progress{Completed: i + 1, Total: total}
		}
	}()

	return results, progress
}

// synthesize shields the engine call from cancellation of ctx so a chunk is
// never abandoned half way; only the per-chunk timeout can interrupt it.
func (d *Driver) synthesize(ctx context.Context, text string, voice Voice, language string) (audio.Segment, error) {
	callCtx := context.WithoutCancel(ctx)
	if d.chunkTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, d.chunkTimeout)
		defer cancel()
	}
	return d.engine.Synthesize(callCtx, text, voice, language)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

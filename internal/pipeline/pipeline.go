// Package pipeline turns one document into an audio track and its timing
// file: normalize, chunk, synthesize, assemble, time, store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/errs"
	"github.com/loqalabs/readaloud/internal/normalize"
	"github.com/loqalabs/readaloud/internal/timing"
	"github.com/loqalabs/readaloud/internal/tts"
)

type Document struct {
	Text   string
	Format normalize.Format
}

// Options configures one run. AudioPath and TimingPath are required.
type Options struct {
	MaxChars         int
	TargetSampleRate int
	Strategy         timing.Strategy

	// Language is used when the voice does not name one.
	Language string

	AudioPath  string
	TimingPath string

	// PartialDir holds completed chunk segments of an interrupted run. A
	// later run with the same chunks and voice resumes after them. Segments
	// are only written when KeepPartial is set.
	PartialDir  string
	KeepPartial bool

	// Progress, when set, is called from the calling goroutine after each chunk.
	Progress func(tts.Progress)
}

// Output describes a completed run.
type Output struct {
	Chunks  []chunker.Chunk
	Track   *audio.Track
	Timing  *timing.Model
	Resumed int
}

type Pipeline struct {
	driver *tts.Driver
	logger *slog.Logger
	tracer trace.Tracer
}

func New(driver *tts.Driver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		driver: driver,
		logger: logger.With(slog.String("component", "pipeline")),
		tracer: otel.Tracer("github.com/loqalabs/readaloud/pipeline"),
	}
}

// Run generates the track and timing for doc. Nothing is written to
// AudioPath or TimingPath unless every step succeeds. When ctx is cancelled
// the run stops at the next chunk boundary with a *errs.GenerationError
// whose ChunkIndex is the first chunk without audio.
func (p *Pipeline) Run(ctx context.Context, doc Document, voice tts.Voice, opts Options) (out *Output, err error) {
	if opts.AudioPath == "" || opts.TimingPath == "" {
		return nil, errors.New("pipeline: audio and timing paths are required")
	}
	ctx, span := p.tracer.Start(ctx, "readaloud.pipeline.run", trace.WithAttributes(
		attribute.String("voice", voice.Name),
		attribute.String("timing_mode", opts.Strategy.Mode()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if voice.Language == "" {
		voice.Language = opts.Language
	}
	text, err := normalize.Text(doc.Text, doc.Format)
	if err != nil {
		return nil, err
	}
	maxChars := opts.MaxChars
	if maxChars <= 0 {
		maxChars = chunker.DefaultMaxChars
	}
	chunks := chunker.Split(text, maxChars)
	if len(chunks) == 0 {
		return nil, &errs.InvalidInputError{Reason: "document has no text to read"}
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	segments, err := p.resume(opts, chunks, voice)
	if err != nil {
		return nil, err
	}
	from := len(segments)
	if from > 0 {
		p.logger.Info("resuming generation", slog.Int("from_chunk", from), slog.Int("chunks", len(chunks)))
	}

	segments, err = p.synthesize(ctx, chunks, voice, from, segments, opts)
	if err != nil {
		return nil, err
	}

	track, err := audio.Assemble(segments, opts.TargetSampleRate)
	if err != nil {
		p.logger.Error("assembly invariant violated", slogError(err))
		return nil, err
	}
	model, err := timing.Build(ctx, opts.Strategy, chunks, track)
	if err != nil {
		if errors.Is(err, errs.ErrAssembly) {
			p.logger.Error("timing invariant violated", slogError(err))
		}
		return nil, err
	}

	if err := p.commit(opts, track, model); err != nil {
		return nil, err
	}
	if opts.PartialDir != "" {
		if err := os.RemoveAll(opts.PartialDir); err != nil {
			p.logger.Warn("failed to remove partial segments", slogError(err))
		}
	}
	span.SetAttributes(attribute.Float64("duration_seconds", track.TotalDuration))
	p.logger.Info("generation complete",
		slog.Int("chunks", len(chunks)),
		slog.Float64("duration_seconds", track.TotalDuration),
		slog.Int("sentences", len(model.Sentences)),
	)
	return &Output{Chunks: chunks, Track: track, Timing: model, Resumed: from}, nil
}

// commit stages both outputs before replacing either, so a failed write
// leaves the previous audio and timing in place.
func (p *Pipeline) commit(opts Options, track *audio.Track, model *timing.Model) error {
	audioFile, err := audio.StageWAV(opts.AudioPath, track.Samples, track.SampleRate)
	if err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	defer audioFile.Discard()
	timingFile, err := timing.Stage(opts.TimingPath, model)
	if err != nil {
		return fmt.Errorf("write timing: %w", err)
	}
	defer timingFile.Discard()

	if err := audioFile.Commit(); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	if err := timingFile.Commit(); err != nil {
		os.Remove(opts.AudioPath)
		return fmt.Errorf("write timing: %w", err)
	}
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, chunks []chunker.Chunk, voice tts.Voice, from int, segments []audio.Segment, opts Options) ([]audio.Segment, error) {
	results, progress := p.driver.Run(ctx, chunks, voice, from)
	notify := func(pr tts.Progress) {
		if opts.Progress != nil {
			opts.Progress(pr)
		}
	}

	var runErr error
	for results != nil {
		select {
		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if r.Err != nil {
				runErr = r.Err
				continue
			}
			segments = append(segments, r.Segment)
			if opts.KeepPartial && opts.PartialDir != "" {
				if err := audio.SaveSegment(opts.PartialDir, r.Segment); err != nil {
					p.logger.Warn("failed to persist partial segment", slog.Int("chunk", r.ChunkIndex), slogError(err))
				}
			}
		case pr, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			notify(pr)
		}
	}
	if progress != nil {
		for pr := range progress {
			notify(pr)
		}
	}
	if runErr != nil {
		if opts.KeepPartial && opts.PartialDir != "" {
			p.logger.Info("kept partial segments", slog.Int("completed", len(segments)), slog.String("dir", opts.PartialDir))
		}
		return nil, runErr
	}
	return segments, nil
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

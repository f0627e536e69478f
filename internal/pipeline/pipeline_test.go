package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/errs"
	"github.com/loqalabs/readaloud/internal/normalize"
	"github.com/loqalabs/readaloud/internal/timing"
	"github.com/loqalabs/readaloud/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fixedEngine returns the same amount of audio for every chunk.
type fixedEngine struct {
	mu      sync.Mutex
	seconds float64
	rate    int
	texts   []string
	onCall  func(n int)
}

func (e *fixedEngine) PrepareVoice(ctx context.Context, v tts.Voice) (tts.Voice, error) {
	v.Embedding = []byte{1}
	return v, nil
}

func (e *fixedEngine) Synthesize(ctx context.Context, text string, v tts.Voice, language string) (audio.Segment, error) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	n := len(e.texts)
	e.mu.Unlock()
	if e.onCall != nil {
		e.onCall(n)
	}
	return audio.Segment{Samples: make([]float32, int(e.seconds*float64(e.rate))), SampleRate: e.rate}, nil
}

func (e *fixedEngine) Close() error { return nil }

func (e *fixedEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.texts)
}

func outputs(t *testing.T) (string, string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "audio.wav"), filepath.Join(dir, "timing.json"), filepath.Join(dir, "partial")
}

func TestRunEndToEnd(t *testing.T) {
	engine := &fixedEngine{seconds: 5, rate: 8000}
	p := New(tts.NewDriver(engine), newLogger())
	audioPath, timingPath, _ := outputs(t)

	var updates []tts.Progress
	out, err := p.Run(context.Background(),
		Document{Text: "Hello world. This is ReadAloud.", Format: normalize.FormatPlain},
		tts.Voice{Kind: tts.VoiceStock},
		Options{AudioPath: audioPath, TimingPath: timingPath, Strategy: timing.Estimate(), Progress: func(p tts.Progress) { updates = append(updates, p) }},
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out.Chunks) != 1 || out.Track.TotalDuration != 5 {
		t.Fatalf("expected one chunk and a 5s track, got %d chunks, %vs", len(out.Chunks), out.Track.TotalDuration)
	}
	s := out.Timing.Sentences
	if len(s) != 2 || math.Abs(s[0].End-2.0) > 1e-6 || math.Abs(s[1].End-s[1].Start-3.0) > 1e-6 {
		t.Fatalf("unexpected sentence timing %+v", s)
	}
	if len(updates) == 0 || updates[len(updates)-1].Completed != 1 {
		t.Fatalf("unexpected progress %+v", updates)
	}

	model, err := timing.Load(timingPath)
	if err != nil {
		t.Fatalf("load timing: %v", err)
	}
	if model.AudioDuration != 5 {
		t.Fatalf("stored duration %v", model.AudioDuration)
	}
	dur, err := audio.WAVDuration(audioPath)
	if err != nil || math.Abs(dur-5) > 1e-3 {
		t.Fatalf("stored audio duration %v, %v", dur, err)
	}
}

func TestRunMarkdownMultiChunk(t *testing.T) {
	engine := &fixedEngine{seconds: 0.5, rate: 1000}
	p := New(tts.NewDriver(engine), newLogger())
	audioPath, timingPath, _ := outputs(t)
	out, err := p.Run(context.Background(),
		Document{Text: "# Title\n\nFirst *sentence* here. Second [one](http://x.y) here.\n\nThird.", Format: normalize.FormatMarkdown},
		tts.Voice{},
		Options{AudioPath: audioPath, TimingPath: timingPath, MaxChars: 25, TargetSampleRate: 2000},
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out.Chunks) != engine.calls() || len(out.Chunks) < 3 {
		t.Fatalf("expected one engine call per chunk, got %d chunks and %d calls", len(out.Chunks), engine.calls())
	}
	if out.Track.SampleRate != 2000 {
		t.Fatalf("track not resampled to target rate: %d", out.Track.SampleRate)
	}
	if err := out.Timing.Validate(); err != nil {
		t.Fatalf("invalid timing: %v", err)
	}
}

func TestFailedTimingWriteKeepsPreviousAudio(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "audio.wav")
	if err := os.WriteFile(audioPath, []byte("previous"), 0o644); err != nil {
		t.Fatalf("seed audio: %v", err)
	}
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}

	p := New(tts.NewDriver(&fixedEngine{seconds: 1, rate: 1000}), newLogger())
	_, err := p.Run(context.Background(),
		Document{Text: "Hello world.", Format: normalize.FormatPlain},
		tts.Voice{},
		Options{AudioPath: audioPath, TimingPath: filepath.Join(blocker, "timing.json")},
	)
	if err == nil {
		t.Fatal("expected timing write to fail")
	}
	data, err := os.ReadFile(audioPath)
	if err != nil || string(data) != "previous" {
		t.Fatalf("previous audio should survive, got %q, %v", data, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("staged files left behind: %v", entries)
	}
}

func TestRunRejectsEmptyDocument(t *testing.T) {
	p := New(tts.NewDriver(&fixedEngine{seconds: 1, rate: 1000}), newLogger())
	audioPath, timingPath, _ := outputs(t)
	_, err := p.Run(context.Background(), Document{Text: "  \n ", Format: normalize.FormatPlain}, tts.Voice{}, Options{AudioPath: audioPath, TimingPath: timingPath})
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCancelKeepsPartialAndResumes(t *testing.T) {
	doc := Document{Text: "One. Two. Three. Four. Five.", Format: normalize.FormatPlain}
	audioPath, timingPath, partialDir := outputs(t)
	opts := Options{AudioPath: audioPath, TimingPath: timingPath, PartialDir: partialDir, KeepPartial: true, MaxChars: 5}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &fixedEngine{seconds: 1, rate: 1000, onCall: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	_, err := New(tts.NewDriver(first), newLogger()).Run(ctx, doc, tts.Voice{}, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if idx, ok := errs.ChunkIndex(err); !ok || idx != 2 {
		t.Fatalf("expected resume index 2, got %d", idx)
	}
	for _, path := range []string{audioPath, timingPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("%s must not exist after cancellation", path)
		}
	}
	segments, err := audio.LoadSegments(partialDir, 5)
	if err != nil || len(segments) != 2 {
		t.Fatalf("expected 2 persisted segments, got %d, %v", len(segments), err)
	}

	second := &fixedEngine{seconds: 1, rate: 1000}
	out, err := New(tts.NewDriver(second), newLogger()).Run(context.Background(), doc, tts.Voice{}, opts)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.calls() != 3 || out.Resumed != 2 {
		t.Fatalf("expected 3 engine calls after resuming at 2, got %d calls, resumed %d", second.calls(), out.Resumed)
	}
	if second.texts[0] != "Three." {
		t.Fatalf("resume started at %q", second.texts[0])
	}
	if out.Track.TotalDuration != 5 {
		t.Fatalf("expected 5s track, got %v", out.Track.TotalDuration)
	}
	if _, err := os.Stat(partialDir); !os.IsNotExist(err) {
		t.Fatal("partial segments must be removed after success")
	}
}

func TestPartialOfDifferentRunIsDiscarded(t *testing.T) {
	audioPath, timingPath, partialDir := outputs(t)
	opts := Options{AudioPath: audioPath, TimingPath: timingPath, PartialDir: partialDir, KeepPartial: true, MaxChars: 5}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &fixedEngine{seconds: 1, rate: 1000, onCall: func(n int) { cancel() }}
	_, _ = New(tts.NewDriver(first), newLogger()).Run(ctx, Document{Text: "One. Two. Three."}, tts.Voice{}, opts)

	second := &fixedEngine{seconds: 1, rate: 1000}
	if _, err := New(tts.NewDriver(second), newLogger()).Run(context.Background(), Document{Text: "Other. Text. Here."}, tts.Voice{}, opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	if second.calls() != 3 {
		t.Fatalf("segments of different text must not be reused, engine saw %d calls", second.calls())
	}
}

func TestCancelWithoutKeepPartial(t *testing.T) {
	audioPath, timingPath, partialDir := outputs(t)
	opts := Options{AudioPath: audioPath, TimingPath: timingPath, PartialDir: partialDir, MaxChars: 5}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := &fixedEngine{seconds: 1, rate: 1000, onCall: func(n int) { cancel() }}
	if _, err := New(tts.NewDriver(engine), newLogger()).Run(ctx, Document{Text: "One. Two. Three."}, tts.Voice{}, opts); err == nil {
		t.Fatal("expected cancellation")
	}
	if _, err := os.Stat(partialDir); !os.IsNotExist(err) {
		t.Fatal("partial segments must be discarded without KeepPartial")
	}
}

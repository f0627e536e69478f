package generation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/errs"
	"github.com/loqalabs/readaloud/internal/library"
	"github.com/loqalabs/readaloud/internal/pipeline"
	"github.com/loqalabs/readaloud/internal/timing"
	"github.com/loqalabs/readaloud/internal/tts"
	"github.com/loqalabs/readaloud/internal/voice"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// gateEngine blocks every call until release is signalled.
type gateEngine struct {
	started chan string
	release chan struct{}
}

func newGateEngine() *gateEngine {
	return &gateEngine{started: make(chan string, 16), release: make(chan struct{}, 16)}
}

func (e *gateEngine) PrepareVoice(ctx context.Context, v tts.Voice) (tts.Voice, error) { return v, nil }

func (e *gateEngine) Synthesize(ctx context.Context, text string, v tts.Voice, language string) (audio.Segment, error) {
	e.started <- text
	<-e.release
	return audio.Segment{Samples: make([]float32, 100), SampleRate: 1000}, nil
}

func (e *gateEngine) Close() error { return nil }

type fixture struct {
	svc *Service
	lib *library.Library
}

func newFixture(t *testing.T, engine tts.Engine, queueSize int) fixture {
	t.Helper()
	dir := t.TempDir()
	lib, err := library.Open(context.Background(), config.LibraryConfig{Directory: filepath.Join(dir, "lib")}, newLogger())
	if err != nil {
		t.Fatalf("open library: %v", err)
	}
	t.Cleanup(func() { _ = lib.Close() })

	cfg := config.Default()
	voices, err := voice.FromConfig(cfg.TTS)
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	svc := NewService(context.Background(), config.GenerationConfig{QueueSize: queueSize}, config.ChunkingConfig{MaxChars: 20}, Deps{
		Library:  lib,
		Pipeline: pipeline.New(tts.NewDriver(engine), newLogger()),
		Voices:   voices,
		Strategy: timing.Estimate(),
	}, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)
	return fixture{svc: svc, lib: lib}
}

func (f fixture) document(t *testing.T, text string) library.Item {
	t.Helper()
	item, err := f.lib.CreateDocument(context.Background(), text, "doc.md", "")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return item
}

func waitFor(t *testing.T, svc *Service, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, ok := svc.Job(id)
		if !ok {
			t.Fatalf("job %s unknown", id)
		}
		switch j.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return Job{}
}

func TestSubmitGeneratesDocument(t *testing.T) {
	f := newFixture(t, tts.NewMockEngine(1000), 4)
	item := f.document(t, "# Hello\n\nThe first sentence. And a second one.")
	updates, unsubscribe := f.svc.Subscribe()
	defer unsubscribe()

	j, err := f.svc.Submit(context.Background(), Request{ItemID: item.ID})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := waitFor(t, f.svc, j.ID)
	if done.Status != StatusCompleted || done.Completed != done.Total || done.Total == 0 {
		t.Fatalf("unexpected job %+v", done)
	}

	select {
	case p := <-updates:
		if p.JobID != j.ID || p.ItemID != item.ID || p.Chapter != -1 {
			t.Fatalf("unexpected progress %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no progress received")
	}

	got, err := f.lib.Get(context.Background(), item.ID)
	if err != nil || !got.AudioGenerated || got.AudioDuration <= 0 {
		t.Fatalf("library not updated: %+v, %v", got, err)
	}
	audioPath, timingPath, _ := f.lib.Paths(got, -1)
	if _, err := os.Stat(audioPath); err != nil {
		t.Fatalf("audio missing: %v", err)
	}
	if _, err := timing.Load(timingPath); err != nil {
		t.Fatalf("timing: %v", err)
	}
	events, err := f.lib.ListEvents(context.Background(), item.ID, 10)
	if err != nil || len(events) != 3 || events[2].Type != library.EventCompleted {
		t.Fatalf("unexpected events %+v, %v", events, err)
	}
}

func TestSubmitBookChapter(t *testing.T) {
	f := newFixture(t, tts.NewMockEngine(1000), 4)
	book, err := f.lib.CreateBook(context.Background(), "Book", "b.md", []chunker.Chapter{
		{Title: "One", Content: "# One\n\nFirst chapter."},
		{Title: "Two", Content: "# Two\n\nSecond chapter."},
	}, "")
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if _, err := f.svc.Submit(context.Background(), Request{ItemID: book.ID}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("expected chapter requirement, got %v", err)
	}
	bad := 5
	if _, err := f.svc.Submit(context.Background(), Request{ItemID: book.ID, Chapter: &bad}); !errors.Is(err, library.ErrNoChapter) {
		t.Fatalf("expected ErrNoChapter, got %v", err)
	}

	chapter := 1
	j, err := f.svc.Submit(context.Background(), Request{ItemID: book.ID, Chapter: &chapter})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done := waitFor(t, f.svc, j.ID); done.Status != StatusCompleted {
		t.Fatalf("unexpected job %+v", done)
	}
	got, _ := f.lib.Get(context.Background(), book.ID)
	if got.Chapters[1].AudioPath == "" || got.AudioGenerated {
		t.Fatalf("expected only chapter 1 generated: %+v", got)
	}
	if !strings.HasSuffix(got.Chapters[1].AudioPath, "01-Two.wav") {
		t.Fatalf("unexpected chapter audio path %s", got.Chapters[1].AudioPath)
	}
}

func TestSubmitRejectsDuplicateTarget(t *testing.T) {
	engine := newGateEngine()
	f := newFixture(t, engine, 4)
	item := f.document(t, "Only one sentence.")

	first, err := f.svc.Submit(context.Background(), Request{ItemID: item.ID})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-engine.started
	if _, err := f.svc.Submit(context.Background(), Request{ItemID: item.ID}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	engine.release <- struct{}{}
	if done := waitFor(t, f.svc, first.ID); done.Status != StatusCompleted {
		t.Fatalf("unexpected job %+v", done)
	}
	again, err := f.svc.Submit(context.Background(), Request{ItemID: item.ID})
	if err != nil {
		t.Fatalf("resubmit after completion: %v", err)
	}
	<-engine.started
	engine.release <- struct{}{}
	waitFor(t, f.svc, again.ID)
}

func TestBusyWhileQueuedOrRunning(t *testing.T) {
	engine := newGateEngine()
	f := newFixture(t, engine, 4)
	a := f.document(t, "Document a.")
	b := f.document(t, "Document b.")
	if f.svc.Busy(a.ID) {
		t.Fatal("idle item reported busy")
	}

	first, err := f.svc.Submit(context.Background(), Request{ItemID: a.ID})
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	<-engine.started
	second, err := f.svc.Submit(context.Background(), Request{ItemID: b.ID})
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if !f.svc.Busy(a.ID) || !f.svc.Busy(b.ID) {
		t.Fatal("expected running and queued items to be busy")
	}

	engine.release <- struct{}{}
	waitFor(t, f.svc, first.ID)
	if f.svc.Busy(a.ID) {
		t.Fatal("item still busy after its job finished")
	}
	<-engine.started
	engine.release <- struct{}{}
	waitFor(t, f.svc, second.ID)
	if f.svc.Busy(b.ID) {
		t.Fatal("item still busy after its job finished")
	}
}

func TestQueueFull(t *testing.T) {
	engine := newGateEngine()
	f := newFixture(t, engine, 1)
	a := f.document(t, "Document a.")
	b := f.document(t, "Document b.")
	c := f.document(t, "Document c.")

	first, err := f.svc.Submit(context.Background(), Request{ItemID: a.ID})
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	<-engine.started
	second, err := f.svc.Submit(context.Background(), Request{ItemID: b.ID})
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if _, err := f.svc.Submit(context.Background(), Request{ItemID: c.ID}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	// Jobs run in submission order.
	engine.release <- struct{}{}
	if got := <-engine.started; got != "Document b." {
		t.Fatalf("expected b to run second, engine got %q", got)
	}
	engine.release <- struct{}{}
	waitFor(t, f.svc, first.ID)
	waitFor(t, f.svc, second.ID)
}

func TestCancelRunningJob(t *testing.T) {
	engine := newGateEngine()
	f := newFixture(t, engine, 4)
	item := f.document(t, "First sentence here. Second sentence here. Third sentence here.")

	j, err := f.svc.Submit(context.Background(), Request{ItemID: item.ID, KeepPartial: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-engine.started
	if err := f.svc.Cancel(j.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	engine.release <- struct{}{}
	done := waitFor(t, f.svc, j.ID)
	if done.Status != StatusCancelled || done.ResumeChunk != 1 {
		t.Fatalf("expected cancellation resumable at chunk 1, got %+v", done)
	}
	segments, err := audio.LoadSegments(f.lib.PartialDir(item.ID, -1), 10)
	if err != nil || len(segments) != 1 {
		t.Fatalf("expected one kept segment, got %d, %v", len(segments), err)
	}
	if err := f.svc.Cancel("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	engine := newGateEngine()
	f := newFixture(t, engine, 4)
	a := f.document(t, "Document a.")
	b := f.document(t, "Document b.")

	first, _ := f.svc.Submit(context.Background(), Request{ItemID: a.ID})
	<-engine.started
	queued, err := f.svc.Submit(context.Background(), Request{ItemID: b.ID})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.svc.Cancel(queued.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	engine.release <- struct{}{}
	waitFor(t, f.svc, first.ID)
	if done := waitFor(t, f.svc, queued.ID); done.Status != StatusCancelled {
		t.Fatalf("expected queued job cancelled, got %+v", done)
	}
	select {
	case text := <-engine.started:
		t.Fatalf("cancelled job reached the engine with %q", text)
	default:
	}
}

func TestSubmitAfterClose(t *testing.T) {
	f := newFixture(t, tts.NewMockEngine(1000), 4)
	item := f.document(t, "Hello.")
	f.svc.Close()
	if _, err := f.svc.Submit(context.Background(), Request{ItemID: item.ID}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if f.svc.Healthy() {
		t.Fatal("closed service must not report healthy")
	}
	if _, err := f.svc.Submit(context.Background(), Request{ItemID: "missing"}); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/errs"
)

type scriptedEngine struct {
	mu        sync.Mutex
	inFlight  atomic.Int32
	overlap   atomic.Bool
	texts     []string
	prepares  int
	failAt    string
	onCall    func(text string)
	callDelay time.Duration
}

func (e *scriptedEngine) PrepareVoice(ctx context.Context, v Voice) (Voice, error) {
	e.mu.Lock()
	e.prepares++
	e.mu.Unlock()
	v.Embedding = []byte("embedding")
	return v, nil
}

func (e *scriptedEngine) Synthesize(ctx context.Context, text string, v Voice, language string) (audio.Segment, error) {
	if e.inFlight.Add(1) > 1 {
		e.overlap.Store(true)
	}
	defer e.inFlight.Add(-1)
	if e.onCall != nil {
		e.onCall(text)
	}
	if e.callDelay > 0 {
		time.Sleep(e.callDelay)
	}
	if err := ctx.Err(); err != nil {
		return audio.Segment{}, err
	}
	if !v.Prepared() {
		return audio.Segment{}, errors.New("voice not prepared")
	}
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	if text == e.failAt {
		return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: errors.New("out of memory")}
	}
	return audio.Segment{Samples: make([]float32, 100), SampleRate: 1000}, nil
}

func (e *scriptedEngine) Close() error { return nil }

func makeChunks(texts ...string) []chunker.Chunk {
	chunks := make([]chunker.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunker.Chunk{Index: i, Text: text}
	}
	return chunks
}

func drain(results <-chan Result) ([]Result, error) {
	var out []Result
	var err error
	for r := range results {
		if r.Err != nil {
			err = r.Err
			continue
		}
		out = append(out, r)
	}
	return out, err
}

func TestDriverEmitsInOrder(t *testing.T) {
	engine := &scriptedEngine{}
	driver := NewDriver(engine)
	results, progress := driver.Run(context.Background(), makeChunks("a", "b", "c"), Voice{Kind: VoiceStock}, 0)
	got, err := drain(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	for i, r := range got {
		if r.ChunkIndex != i || r.Segment.ChunkIndex != i {
			t.Fatalf("result %d carries index %d/%d", i, r.ChunkIndex, r.Segment.ChunkIndex)
		}
	}
	var updates []Progress
	for p := range progress {
		updates = append(updates, p)
	}
	if len(updates) != 4 || updates[0].Completed != 0 || updates[3].Completed != 3 || updates[3].Total != 3 {
		t.Fatalf("unexpected progress %+v", updates)
	}
}

func TestDriverResumesFromIndex(t *testing.T) {
	engine := &scriptedEngine{}
	driver := NewDriver(engine)
	results, _ := driver.Run(context.Background(), makeChunks("a", "b", "c", "d"), Voice{}, 2)
	got, err := drain(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ChunkIndex != 2 || got[1].ChunkIndex != 3 {
		t.Fatalf("expected chunks 2 and 3, got %+v", got)
	}
	if len(engine.texts) != 2 || engine.texts[0] != "c" {
		t.Fatalf("engine saw %v", engine.texts)
	}
}

func TestDriverStopsOnEngineError(t *testing.T) {
	engine := &scriptedEngine{failAt: "b"}
	driver := NewDriver(engine)
	results, _ := driver.Run(context.Background(), makeChunks("a", "b", "c"), Voice{}, 0)
	got, err := drain(results)
	if len(got) != 1 {
		t.Fatalf("expected one good result before the failure, got %d", len(got))
	}
	var gen *errs.GenerationError
	if !errors.As(err, &gen) || gen.ChunkIndex != 1 {
		t.Fatalf("expected generation error at chunk 1, got %v", err)
	}
	if !errors.Is(err, errs.ErrEngine) {
		t.Fatalf("expected engine cause, got %v", err)
	}
	if len(engine.texts) != 2 {
		t.Fatalf("driver must not retry or continue, engine saw %v", engine.texts)
	}
}

func TestDriverCancelsAtChunkBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := &scriptedEngine{callDelay: 20 * time.Millisecond}
	engine.onCall = func(text string) {
		if text == "b" {
			cancel()
		}
	}
	driver := NewDriver(engine)
	results, _ := driver.Run(ctx, makeChunks("a", "b", "c", "d", "e"), Voice{}, 0)
	got, err := drain(results)
	if len(got) != 2 {
		t.Fatalf("in-flight chunk should complete, expected 2 results, got %d", len(got))
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if idx, ok := errs.ChunkIndex(err); !ok || idx != 2 {
		t.Fatalf("expected resume index 2, got %d", idx)
	}
}

func TestDriverPreparesCloneOnce(t *testing.T) {
	engine := &scriptedEngine{}
	driver := NewDriver(engine)
	voice := Voice{Kind: VoiceClone, ReferenceAudio: "ref.wav", Transcript: "hello"}
	results, _ := driver.Run(context.Background(), makeChunks("a", "b", "c"), voice, 0)
	if _, err := drain(results); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.prepares != 1 {
		t.Fatalf("expected exactly one voice preparation, got %d", engine.prepares)
	}
}

func TestDriverSerializesRuns(t *testing.T) {
	engine := &scriptedEngine{callDelay: 5 * time.Millisecond}
	driver := NewDriver(engine)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, _ := driver.Run(context.Background(), makeChunks("a", "b", "c"), Voice{}, 0)
			_, _ = drain(results)
		}()
	}
	wg.Wait()
	if engine.overlap.Load() {
		t.Fatal("engine observed overlapping calls")
	}
	if len(engine.texts) != 9 {
		t.Fatalf("expected 9 calls, got %d", len(engine.texts))
	}
}

func TestDriverChunkTimeout(t *testing.T) {
	engine := &scriptedEngine{callDelay: 50 * time.Millisecond}
	driver := NewDriver(engine, WithChunkTimeout(5*time.Millisecond))
	results, _ := driver.Run(context.Background(), makeChunks("a"), Voice{}, 0)
	_, err := drain(results)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMockEngine(t *testing.T) {
	engine := NewMockEngine(1000)
	seg, err := engine.Synthesize(context.Background(), "hello", Voice{}, "english")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if seg.SampleRate != 1000 || len(seg.Samples) != 300 {
		t.Fatalf("expected 0.3s at 1kHz, got %d samples at %d", len(seg.Samples), seg.SampleRate)
	}
	if _, err := engine.Synthesize(context.Background(), "", Voice{}, ""); !errors.Is(err, errs.ErrEngine) {
		t.Fatalf("expected engine error for empty text, got %v", err)
	}
	clone := Voice{Kind: VoiceClone, ReferenceAudio: "ref.wav", Transcript: "hi"}
	if _, err := engine.Synthesize(context.Background(), "x", clone, ""); err == nil {
		t.Fatal("expected unprepared clone to fail")
	}
	prepared, err := engine.PrepareVoice(context.Background(), clone)
	if err != nil || len(prepared.Embedding) == 0 {
		t.Fatalf("prepare: %v", err)
	}
	if engine.Calls() != 1 {
		t.Fatalf("expected 1 call, got %d", engine.Calls())
	}
}

package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSentinelsMatch(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		err      error
		sentinel error
	}{
		{&InvalidInputError{Reason: "empty"}, ErrInvalidInput},
		{&EngineError{Op: "synthesize", Cause: cause}, ErrEngine},
		{&AssemblyError{Reason: "gap"}, ErrAssembly},
		{&CorruptTimingError{Path: "timing.json", Reason: "bad json"}, ErrCorruptTiming},
		{&AlignmentError{ChunkIndex: 1, Cause: cause}, ErrAlignment},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if !errors.Is(wrapped, tc.sentinel) {
			t.Fatalf("expected %v to match %v", tc.err, tc.sentinel)
		}
	}
}

func TestGenerationErrorUnwrapsCause(t *testing.T) {
	engineErr := &EngineError{Op: "synthesize", Cause: errors.New("oom")}
	err := fmt.Errorf("run: %w", &GenerationError{ChunkIndex: 3, Cause: engineErr})
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("expected engine sentinel through generation error")
	}
	idx, ok := ChunkIndex(err)
	if !ok || idx != 3 {
		t.Fatalf("expected chunk index 3, got %d (%v)", idx, ok)
	}

	cancelled := &GenerationError{ChunkIndex: 2, Cause: context.Canceled}
	if !errors.Is(cancelled, context.Canceled) {
		t.Fatalf("expected context.Canceled to be visible")
	}
}

func TestChunkIndexAbsent(t *testing.T) {
	if _, ok := ChunkIndex(errors.New("plain")); ok {
		t.Fatal("expected no chunk index")
	}
}

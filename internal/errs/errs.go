// Package errs defines the error taxonomy shared by the chunking, synthesis,
// assembly and timing stages. Every concrete error matches one sentinel via
// errors.Is and unwraps to its cause where it has one.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrEngine        = errors.New("engine failure")
	ErrAssembly      = errors.New("assembly invariant violated")
	ErrCorruptTiming = errors.New("corrupt timing data")
	ErrAlignment     = errors.New("alignment failed")
)

// InvalidInputError reports a document that yields nothing to read aloud.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// EngineError wraps a failure returned by a speech engine backend.
type EngineError struct {
	Op    string
	Cause error
}

func (e *EngineError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("engine: %v", e.Cause)
	}
	return fmt.Sprintf("engine %s: %v", e.Op, e.Cause)
}

func (e *EngineError) Unwrap() error { return e.Cause }

func (e *EngineError) Is(target error) bool { return target == ErrEngine }

// GenerationError records the chunk at which a generation run stopped.
// ChunkIndex is the first chunk that has no audio, so a resumed run starts there.
type GenerationError struct {
	ChunkIndex int
	Cause      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation stopped at chunk %d: %v", e.ChunkIndex, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// AssemblyError reports a broken segment sequence or sample rate.
type AssemblyError struct {
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly: %s", e.Reason)
}

func (e *AssemblyError) Is(target error) bool { return target == ErrAssembly }

// CorruptTimingError is returned when a persisted timing file cannot be trusted.
type CorruptTimingError struct {
	Path   string
	Reason string
	Cause  error
}

func (e *CorruptTimingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("corrupt timing: %s", e.Reason)
	}
	return fmt.Sprintf("corrupt timing %s: %s", e.Path, e.Reason)
}

func (e *CorruptTimingError) Unwrap() error { return e.Cause }

func (e *CorruptTimingError) Is(target error) bool { return target == ErrCorruptTiming }

// AlignmentError wraps an aligner failure for one chunk.
type AlignmentError struct {
	ChunkIndex int
	Cause      error
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("align chunk %d: %v", e.ChunkIndex, e.Cause)
}

func (e *AlignmentError) Unwrap() error { return e.Cause }

func (e *AlignmentError) Is(target error) bool { return target == ErrAlignment }

// ChunkIndex reports the resume point carried by err, if any.
func ChunkIndex(err error) (int, bool) {
	var gen *GenerationError
	if errors.As(err, &gen) {
		return gen.ChunkIndex, true
	}
	return 0, false
}

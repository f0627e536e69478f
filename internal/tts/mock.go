package tts

import (
	"context"
	"crypto/sha256"
	"errors"
	"math"
	"sync/atomic"
	"unicode/utf8"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/errs"
)

// MockEngine renders a quiet tone whose length is proportional to the text.
type MockEngine struct {
	sampleRate     int
	secondsPerRune float64
	calls          atomic.Int64
}

func NewMockEngine(sampleRate int) *MockEngine {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &MockEngine{sampleRate: sampleRate, secondsPerRune: 0.06}
}

func (m *MockEngine) PrepareVoice(ctx context.Context, voice Voice) (Voice, error) {
	if err := voice.Validate(); err != nil {
		return voice, &errs.EngineError{Op: "prepare voice", Cause: err}
	}
	if voice.Kind == VoiceClone && len(voice.Embedding) == 0 {
		sum := sha256.Sum256([]byte(voice.ReferenceAudio + "\n" + voice.Transcript))
		voice.Embedding = sum[:]
	}
	return voice, nil
}

func (m *MockEngine) Synthesize(ctx context.Context, text string, voice Voice, language string) (audio.Segment, error) {
	if err := ctx.Err(); err != nil {
		return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: err}
	}
	if text == "" {
		return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: errors.New("empty text")}
	}
	if !voice.Prepared() {
		return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: errors.New("clone voice not prepared")}
	}
	m.calls.Add(1)

	n := int(math.Round(float64(utf8.RuneCountInString(text)) * m.secondsPerRune * float64(m.sampleRate)))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.1 * math.Sin(2*math.Pi*220*float64(i)/float64(m.sampleRate)))
	}
	return audio.Segment{Samples: samples, SampleRate: m.sampleRate}, nil
}

// Calls reports how many chunks were synthesized.
func (m *MockEngine) Calls() int { return int(m.calls.Load()) }

func (m *MockEngine) Close() error { return nil }

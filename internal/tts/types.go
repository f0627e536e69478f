package tts

import (
	"context"
	"errors"

	"github.com/loqalabs/readaloud/internal/audio"
)

// VoiceKind separates built-in speakers from voices cloned from a reference clip.
type VoiceKind string

const (
	VoiceStock VoiceKind = "stock"
	VoiceClone VoiceKind = "clone"
)

// Voice describes the speaker for one generation run. Clone voices carry a
// reference clip and its exact transcript; Embedding is filled once by
// Engine.PrepareVoice and reused for every chunk of the run.
type Voice struct {
	Name           string    `json:"name,omitempty"`
	Kind           VoiceKind `json:"kind"`
	Speaker        string    `json:"speaker,omitempty"`
	Language       string    `json:"language,omitempty"`
	ReferenceAudio string    `json:"reference_audio,omitempty"`
	Transcript     string    `json:"transcript,omitempty"`
	Embedding      []byte    `json:"-"`
}

func (v Voice) Validate() error {
	switch v.Kind {
	case VoiceStock, "":
		return nil
	case VoiceClone:
		if v.ReferenceAudio == "" {
			return errors.New("clone voice requires reference audio")
		}
		if v.Transcript == "" {
			return errors.New("clone voice requires the reference transcript")
		}
		return nil
	default:
		return errors.New("voice kind must be stock or clone")
	}
}

// Prepared reports whether the voice can be passed to Synthesize as is.
func (v Voice) Prepared() bool {
	return v.Kind != VoiceClone || len(v.Embedding) > 0
}

// Engine is a local speech synthesizer. Implementations are not required to be
// reentrant; Driver never issues overlapping calls.
type Engine interface {
	// PrepareVoice returns voice with any reusable clone state computed.
	PrepareVoice(ctx context.Context, voice Voice) (Voice, error)
	// Synthesize renders text as mono audio.
	Synthesize(ctx context.Context, text string, voice Voice, language string) (audio.Segment, error)
	Close() error
}

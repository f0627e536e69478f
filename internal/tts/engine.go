package tts

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/readaloud/internal/config"
)

// NewEngine builds the backend selected by cfg.Mode.
func NewEngine(cfg config.TTSConfig, logger *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEngine(cfg.SampleRate), nil
	case "exec":
		return NewExecEngine(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "piper":
		return NewPiperEngine(cfg.Endpoint, logger), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

// DefaultVoice is the stock voice named by the tts section.
func DefaultVoice(cfg config.TTSConfig) Voice {
	speaker := cfg.Voice
	if speaker == "default" {
		speaker = ""
	}
	return Voice{Name: cfg.Voice, Kind: VoiceStock, Speaker: speaker, Language: cfg.Language}
}

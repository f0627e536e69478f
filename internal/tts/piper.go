package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/errs"
)

// defaultPiperVoices maps ISO-639-1 language codes to Piper voice model names.
var defaultPiperVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"fr": "fr_FR-siwis-medium",
	"es": "es_ES-mls_10246-low",
	"de": "de_DE-thorsten-medium",
	"it": "it_IT-riccardo-x_low",
	"pt": "pt_BR-faber-medium",
	"ja": "ja_JP-amitaro-medium",
	"ko": "ko_KR-kss-x_low",
	"zh": "zh_CN-huayan-medium",
}

var languageCodes = map[string]string{
	"english": "en", "french": "fr", "spanish": "es", "german": "de", "italian": "it",
	"portuguese": "pt", "japanese": "ja", "korean": "ko", "chinese": "zh",
}

// LanguageCode maps a language name such as "english" to its ISO-639-1 code.
func LanguageCode(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if code, ok := languageCodes[lang]; ok {
		return code
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

// piperEngine speaks the Wyoming protocol to a Piper server. Connections are
// per call; Piper voices are stock only.
type piperEngine struct {
	endpoint string
	voices   map[string]string
	logger   *slog.Logger
}

func NewPiperEngine(endpoint string, logger *slog.Logger) Engine {
	endpoint = strings.TrimPrefix(endpoint, "tcp://")
	voices := make(map[string]string, len(defaultPiperVoices))
	for k, v := range defaultPiperVoices {
		voices[k] = v
	}
	return &piperEngine{
		endpoint: endpoint,
		voices:   voices,
		logger:   logger.With(slog.String("component", "piper")),
	}
}

func (p *piperEngine) PrepareVoice(ctx context.Context, voice Voice) (Voice, error) {
	if voice.Kind == VoiceClone {
		return voice, &errs.EngineError{Op: "prepare voice", Cause: errors.New("piper does not support cloned voices")}
	}
	return voice, nil
}

func (p *piperEngine) Synthesize(ctx context.Context, text string, voice Voice, language string) (audio.Segment, error) {
	if text == "" {
		return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: errors.New("empty text")}
	}
	name := voice.Speaker
	if name == "" {
		name = p.voices[LanguageCode(language)]
	}
	if name == "" {
		name = p.voices["en"]
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", p.endpoint)
	if err != nil {
		return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: fmt.Errorf("connect to piper: %w", err)}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(60 * time.Second))
	}

	req := wyomingEvent{
		Type: "synthesize",
		Data: map[string]any{
			"text":  text,
			"voice": map[string]any{"name": name},
		},
	}
	if err := writeEvent(conn, req, nil); err != nil {
		return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: fmt.Errorf("send synthesize event: %w", err)}
	}

	var (
		pcm      bytes.Buffer
		rate     = 22050
		channels = 1
		width    = 2
	)
	for {
		evt, payload, err := readEvent(conn)
		if err != nil {
			return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: fmt.Errorf("read piper event: %w", err)}
		}
		switch evt.Type {
		case "audio-start":
			if v, ok := evt.Data["rate"].(float64); ok {
				rate = int(v)
			}
			if v, ok := evt.Data["channels"].(float64); ok {
				channels = int(v)
			}
			if v, ok := evt.Data["width"].(float64); ok {
				width = int(v)
			}
			if width != 2 {
				return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: fmt.Errorf("unsupported sample width %d", width)}
			}
		case "audio-chunk":
			pcm.Write(payload)
		case "audio-stop":
			samples, err := audio.FromPCM16(pcm.Bytes(), channels)
			if err != nil {
				return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: err}
			}
			return audio.Segment{Samples: samples, SampleRate: rate}, nil
		case "error":
			msg := "unknown error"
			if s, ok := evt.Data["text"].(string); ok {
				msg = s
			}
			return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: fmt.Errorf("piper: %s", msg)}
		default:
			p.logger.Debug("ignoring piper event", slog.String("type", evt.Type))
		}
	}
}

func (p *piperEngine) Close() error { return nil }

type wyomingEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// writeEvent frames evt as "<json_len> <payload_len>\n<json>\n<payload>".
func writeEvent(w io.Writer, evt wyomingEvent, payload []byte) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%d %d\n", len(body), len(payload)); err != nil {
		return err
	}
	if _, err := w.Write(append(body, '\n')); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err = w.Write(payload)
	}
	return err
}

func readEvent(r io.Reader) (*wyomingEvent, []byte, error) {
	header := make([]byte, 0, 32)
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, nil, fmt.Errorf("read header: %w", err)
		}
		if one[0] == '\n' {
			break
		}
		header = append(header, one[0])
	}
	parts := strings.Fields(string(header))
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("invalid wyoming header %q", header)
	}
	jsonLen, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("json length: %w", err)
	}
	payloadLen, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("payload length: %w", err)
	}

	body := make([]byte, jsonLen+1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("read json: %w", err)
	}
	var evt wyomingEvent
	if err := json.Unmarshal(body[:jsonLen], &evt); err != nil {
		return nil, nil, fmt.Errorf("decode event: %w", err)
	}
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return &evt, payload, nil
}

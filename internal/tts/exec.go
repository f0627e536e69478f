package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/loqalabs/readaloud/internal/audio"
	"github.com/loqalabs/readaloud/internal/errs"
	"github.com/mattn/go-shellwords"
)

// execEngine drives an external synthesizer process. Each call writes one
// JSON request to stdin and reads JSON lines from stdout until one is final.
type execEngine struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Op              string `json:"op"`
	Text            string `json:"text,omitempty"`
	Voice           string `json:"voice,omitempty"`
	Speaker         string `json:"speaker,omitempty"`
	Language        string `json:"language,omitempty"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	ReferenceAudio  string `json:"reference_audio,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
	EmbeddingBase64 string `json:"embedding_base64,omitempty"`
}

type execResponse struct {
	PCMBase64       string `json:"pcm_base64"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	EmbeddingBase64 string `json:"embedding_base64"`
	Error           string `json:"error"`
	Final           bool   `json:"final"`
}

func NewExecEngine(command string, sampleRate, channels int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execEngine{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execEngine) PrepareVoice(ctx context.Context, voice Voice) (Voice, error) {
	if err := voice.Validate(); err != nil {
		return voice, &errs.EngineError{Op: "prepare voice", Cause: err}
	}
	if voice.Kind != VoiceClone || len(voice.Embedding) > 0 {
		return voice, nil
	}
	responses, err := e.run(ctx, execRequest{
		Op:             "embed",
		Language:       voice.Language,
		SampleRate:     e.sampleRate,
		Channels:       e.channels,
		ReferenceAudio: voice.ReferenceAudio,
		Transcript:     voice.Transcript,
	})
	if err != nil {
		return voice, &errs.EngineError{Op: "prepare voice", Cause: err}
	}
	for _, resp := range responses {
		if resp.EmbeddingBase64 == "" {
			continue
		}
		embedding, err := base64.StdEncoding.DecodeString(resp.EmbeddingBase64)
		if err != nil {
			return voice, &errs.EngineError{Op: "prepare voice", Cause: err}
		}
		voice.Embedding = embedding
		return voice, nil
	}
	return voice, &errs.EngineError{Op: "prepare voice", Cause: errors.New("command returned no embedding")}
}

func (e *execEngine) Synthesize(ctx context.Context, text string, voice Voice, language string) (audio.Segment, error) {
	req := execRequest{
		Op:             "synthesize",
		Text:           text,
		Voice:          voice.Name,
		Speaker:        voice.Speaker,
		Language:       language,
		SampleRate:     e.sampleRate,
		Channels:       e.channels,
		ReferenceAudio: voice.ReferenceAudio,
		Transcript:     voice.Transcript,
	}
	if len(voice.Embedding) > 0 {
		req.EmbeddingBase64 = base64.StdEncoding.EncodeToString(voice.Embedding)
	}
	responses, err := e.run(ctx, req)
	if err != nil {
		return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: err}
	}

	rate, channels := e.sampleRate, e.channels
	var pcm []byte
	for _, resp := range responses {
		if resp.SampleRate > 0 {
			rate = resp.SampleRate
		}
		if resp.Channels > 0 {
			channels = resp.Channels
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: fmt.Errorf("decode pcm: %w", err)}
		}
		pcm = append(pcm, chunk...)
	}
	samples, err := audio.FromPCM16(pcm, channels)
	if err != nil {
		return audio.Segment{}, &errs.EngineError{Op: "synthesize", Cause: err}
	}
	return audio.Segment{Samples: samples, SampleRate: rate}, nil
}

func (e *execEngine) run(ctx context.Context, req execRequest) ([]execResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if _, err := stdin.Write(data); err != nil {
		cmd.Wait()
		return nil, err
	}
	stdin.Close()

	var responses []execResponse
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("decode tts response: %w", err)
		}
		if resp.Error != "" {
			cmd.Wait()
			return nil, errors.New(resp.Error)
		}
		responses = append(responses, resp)
		if resp.Final {
			break
		}
	}
	scanErr := scanner.Err()
	_, _ = io.Copy(io.Discard, stdout)
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return responses, nil
}

func (e *execEngine) Close() error { return nil }

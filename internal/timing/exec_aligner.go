package timing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/readaloud/internal/audio"
)

type execAligner struct {
	cmd []string
	mu  sync.Mutex
}

type execAlignRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type execAlignResponse struct {
	Words []WordSpan `json:"words"`
	Error string     `json:"error,omitempty"`
}

// NewExecAligner runs command once per chunk. The chunk audio is passed as a
// WAV file via --audio, the text as JSON on stdin, and the command prints
// {"words":[{"word","start","end","score"}]} on stdout.
func NewExecAligner(command string) (Aligner, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse aligner command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("aligner command is empty")
	}
	return &execAligner{cmd: args}, nil
}

func (a *execAligner) Align(ctx context.Context, samples []float32, sampleRate int, text, language string) ([]WordSpan, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.CreateTemp("", "readaloud_align_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, samples, sampleRate); err != nil {
		return nil, err
	}

	cmdArgs := append([]string{}, a.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}

	payload, err := json.Marshal(execAlignRequest{Text: text, Language: language})
	if err != nil {
		return nil, fmt.Errorf("encode aligner request: %w", err)
	}

	command := exec.CommandContext(ctx, a.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdin = bytes.NewReader(payload)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("aligner command failed: %w: %s", err, stderr.String())
	}

	var resp execAlignResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode aligner response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("aligner error: %s", resp.Error)
	}
	return resp.Words, nil
}

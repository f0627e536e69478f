package timing

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/loqalabs/readaloud/internal/errs"
	"github.com/loqalabs/readaloud/internal/fsutil"
)

// Save writes m to path atomically. Invalid models are rejected rather than
// written.
func Save(path string, m *Model) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data)
}

// Stage writes m next to path without replacing it.
func Stage(path string, m *Model) (*fsutil.Staged, error) {
	data, err := encode(m)
	if err != nil {
		return nil, err
	}
	return fsutil.Stage(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

func encode(m *Model) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to save timing: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode timing: %w", err)
	}
	return data, nil
}

// Load reads and validates a timing file. A missing file is reported with
// the os error; anything unreadable is a CorruptTimingError.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(path, data)
}

// Decode parses timing JSON. path is only used in error reports.
func Decode(path string, data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &errs.CorruptTimingError{Path: path, Reason: "invalid json", Cause: err}
	}
	if m.Version == "" {
		return nil, &errs.CorruptTimingError{Path: path, Reason: "missing version"}
	}
	if err := m.Validate(); err != nil {
		return nil, &errs.CorruptTimingError{Path: path, Reason: "invariant violated", Cause: err}
	}
	if m.Sentences == nil {
		m.Sentences = []Sentence{}
	}
	return &m, nil
}

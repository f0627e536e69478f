// Package fsutil holds file helpers shared by the audio, timing and library packages.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

const filePerm = 0o644

// Staged is a fully written file waiting to replace its target.
type Staged struct {
	path    string
	pending *renameio.PendingFile
}

// Stage writes the content of path to a pending file in the same directory.
// The target is untouched until Commit.
func Stage(path string, write func(f *os.File) error) (*Staged, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(filePerm))
	if err != nil {
		return nil, fmt.Errorf("pending file for %s: %w", path, err)
	}
	if err := write(pending.File); err != nil {
		_ = pending.Cleanup()
		return nil, err
	}
	return &Staged{path: path, pending: pending}, nil
}

// Commit renames the staged file over its target.
func (s *Staged) Commit() error {
	if err := s.pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// Discard removes the staged file. It is a no-op after Commit.
func (s *Staged) Discard() {
	_ = s.pending.Cleanup()
}

// WriteAtomic creates path by writing to a pending file in the same
// directory and renaming it into place, so readers never observe a partial file.
func WriteAtomic(path string, write func(f *os.File) error) error {
	staged, err := Stage(path, write)
	if err != nil {
		return err
	}
	defer staged.Discard()
	return staged.Commit()
}

// WriteFileAtomic is WriteAtomic for an in-memory payload.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := renameio.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

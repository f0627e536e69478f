package library

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	audioFile       = "audio.wav"
	timingFile      = "timing.json"
	chaptersDir     = "chapters_audio"
	partialDir      = "partial"
	maxSafeTitleLen = 50
)

// ItemDir is the directory holding everything stored for one item.
func (l *Library) ItemDir(id string) string {
	return filepath.Join(l.dir, id)
}

// Paths returns where the audio track and timing file of an item, or of
// one book chapter when chapter >= 0, are stored.
func (l *Library) Paths(item Item, chapter int) (audioPath, timingPath string, err error) {
	dir := l.ItemDir(item.ID)
	if chapter < 0 {
		return filepath.Join(dir, audioFile), filepath.Join(dir, timingFile), nil
	}
	if chapter >= len(item.Chapters) {
		return "", "", ErrNoChapter
	}
	title := item.Chapters[chapter].Title
	if title == "" {
		title = fmt.Sprintf("Chapter %d", chapter+1)
	}
	base := filepath.Join(dir, chaptersDir)
	return filepath.Join(base, fmt.Sprintf("%02d-%s.wav", chapter, SafeTitle(title))),
		filepath.Join(base, fmt.Sprintf("%02d-timing.json", chapter)), nil
}

// PartialDir is where completed chunk segments of an interrupted generation
// are kept for resuming.
func (l *Library) PartialDir(id string, chapter int) string {
	if chapter < 0 {
		return filepath.Join(l.ItemDir(id), partialDir)
	}
	return filepath.Join(l.ItemDir(id), partialDir, fmt.Sprintf("%02d", chapter))
}

// SafeTitle replaces everything but letters, digits, spaces, '-' and '_'
// with '_' and truncates to 50 characters.
func SafeTitle(title string) string {
	var b strings.Builder
	n := 0
	for _, r := range title {
		if n == maxSafeTitleLen {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
		n++
	}
	return b.String()
}

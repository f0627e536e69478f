package protocol

import "time"

// GenerationRequest asks for audio and timing for a library item, or for one
// chapter of a book.
type GenerationRequest struct {
	ItemID      string `json:"item_id"`
	Chapter     *int   `json:"chapter,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Language    string `json:"language,omitempty"`
	KeepPartial bool   `json:"keep_partial,omitempty"`
}

// ChapterIndex is the requested chapter, or -1 for the whole item.
func (r GenerationRequest) ChapterIndex() int {
	if r.Chapter == nil {
		return -1
	}
	return *r.Chapter
}

// GenerationProgress is published after every synthesized chunk.
type GenerationProgress struct {
	JobID       string    `json:"job_id"`
	ItemID      string    `json:"item_id"`
	Chapter     int       `json:"chapter"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	Timestamp   time.Time `json:"timestamp"`
}

// GenerationStatus is published once a job has finished, failed or been cancelled.
type GenerationStatus struct {
	JobID           string    `json:"job_id"`
	ItemID          string    `json:"item_id"`
	Chapter         int       `json:"chapter"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	ResumeChunk     int       `json:"resume_chunk,omitempty"`
	AudioPath       string    `json:"audio_path,omitempty"`
	TimingPath      string    `json:"timing_path,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	SubjectGenerateRequest  = "readaloud.generate.request"
	SubjectGenerateProgress = "readaloud.generate.progress"
	SubjectGenerateDone     = "readaloud.generate.done"
)

package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/errs"
	"github.com/loqalabs/readaloud/internal/generation"
	"github.com/loqalabs/readaloud/internal/library"
	"github.com/loqalabs/readaloud/internal/timing"
)

const (
	maxDocumentBytes  = 32 << 20
	defaultEventLimit = 100
)

type api struct {
	lib       *library.Library
	gen       *generation.Service
	timings   *timingCache
	voices    []string
	autoChunk chunker.AutoChunk
	logger    *slog.Logger
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/voices", a.handleVoices)
	mux.HandleFunc("POST /v1/items", a.handleImport)
	mux.HandleFunc("GET /v1/items", a.handleList)
	mux.HandleFunc("GET /v1/items/{id}", a.handleGet)
	mux.HandleFunc("DELETE /v1/items/{id}", a.handleDelete)
	mux.HandleFunc("GET /v1/items/{id}/events", a.handleEvents)
	mux.HandleFunc("POST /v1/items/{id}/generate", a.handleGenerate)
	mux.HandleFunc("GET /v1/items/{id}/timing", a.handleTiming)
	mux.HandleFunc("GET /v1/items/{id}/sync", a.handleSync)
	mux.HandleFunc("GET /v1/jobs/{id}", a.handleJob)
	mux.HandleFunc("DELETE /v1/jobs/{id}", a.handleCancel)
}

type importRequest struct {
	Markdown string `json:"markdown"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Force    bool   `json:"force"`
}

func (a *api) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"voices": a.voices})
}

func (a *api) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := a.lib.Import(r.Context(), req.Markdown, req.Filename, library.ImportOptions{
		Title:     req.Title,
		Force:     req.Force,
		AutoChunk: a.autoChunk,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := a.lib.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := a.lib.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := a.lib.Get(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	if a.gen.Busy(id) {
		a.fail(w, generation.ErrItemBusy)
		return
	}
	if err := a.lib.Delete(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	a.timings.forget(a.lib, item)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := a.lib.ListEvents(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *api) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generation.Request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	req.ItemID = r.PathValue("id")
	job, err := a.gen.Submit(r.Context(), req)
	switch {
	case errors.Is(err, generation.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "job": job})
	case err != nil:
		a.fail(w, err)
	default:
		writeJSON(w, http.StatusAccepted, job)
	}
}

func (a *api) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.gen.Job(r.PathValue("id"))
	if !ok {
		a.fail(w, generation.ErrUnknownJob)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.gen.Cancel(id); err != nil {
		a.fail(w, err)
		return
	}
	job, _ := a.gen.Job(id)
	writeJSON(w, http.StatusAccepted, job)
}

func (a *api) handleTiming(w http.ResponseWriter, r *http.Request) {
	model, ok := a.loadTiming(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, model)
}

type syncResponse struct {
	timing.Position
	Time         float64 `json:"time"`
	SentenceText string  `json:"sentence_text,omitempty"`
	WordText     string  `json:"word_text,omitempty"`
}

// handleSync resolves a playback position. t is the position in the
// player's timeline; with speed the timeline is scaled first.
func (a *api) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t, err := strconv.ParseFloat(q.Get("t"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "t must be a number of seconds")
		return
	}
	model, ok := a.loadTiming(w, r)
	if !ok {
		return
	}
	if v := q.Get("speed"); v != "" {
		speed, err := strconv.ParseFloat(v, 64)
		if err != nil || speed <= 0 {
			writeError(w, http.StatusBadRequest, "speed must be a positive number")
			return
		}
		model = timing.ScaleForSpeed(model, speed)
	}
	pos := timing.Resolve(model, t)
	resp := syncResponse{Position: pos, Time: t}
	if pos.Sentence >= 0 {
		s := model.Sentences[pos.Sentence]
		resp.SentenceText = s.Text
		if pos.Word >= 0 {
			resp.WordText = s.Words[pos.Word].Word
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) loadTiming(w http.ResponseWriter, r *http.Request) (*timing.Model, bool) {
	chapter := -1
	if v := r.URL.Query().Get("chapter"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "chapter must be a non-negative integer")
			return nil, false
		}
		chapter = n
	}
	item, err := a.lib.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return nil, false
	}
	_, timingPath, err := a.lib.Paths(item, chapter)
	if err != nil {
		a.fail(w, err)
		return nil, false
	}
	model, err := a.timings.get(timingPath)
	if err != nil {
		a.fail(w, err)
		return nil, false
	}
	return model, true
}

func (a *api) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound), errors.Is(err, generation.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "audio has not been generated")
	case errors.Is(err, library.ErrNotBook), errors.Is(err, library.ErrNoChapter),
		errors.Is(err, library.ErrNoDocument), errors.Is(err, errs.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, generation.ErrItemBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, generation.ErrQueueFull), errors.Is(err, generation.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, errs.ErrCorruptTiming):
		a.logger.Error("corrupt timing file", slogError(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		a.logger.Error("request failed", slogError(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

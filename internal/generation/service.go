// Package generation schedules pipeline runs for library items. A single
// worker consumes a FIFO queue so every job shares the one speech engine.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/errs"
	"github.com/loqalabs/readaloud/internal/library"
	"github.com/loqalabs/readaloud/internal/normalize"
	"github.com/loqalabs/readaloud/internal/pipeline"
	"github.com/loqalabs/readaloud/internal/protocol"
	"github.com/loqalabs/readaloud/internal/timing"
	"github.com/loqalabs/readaloud/internal/tts"
)

var (
	ErrAlreadyRunning = errors.New("generation already queued or running for this target")
	ErrQueueFull      = errors.New("generation queue is full")
	ErrClosed         = errors.New("generation service is closed")
	ErrUnknownJob     = errors.New("unknown job")
	ErrItemBusy       = errors.New("item has generation queued or running")
)

type Request = protocol.GenerationRequest

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is a snapshot of one generation request.
type Job struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id"`
	Chapter     int       `json:"chapter"`
	Voice       string    `json:"voice,omitempty"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Completed   int       `json:"completed_chunks"`
	Total       int       `json:"total_chunks"`
	ResumeChunk int       `json:"resume_chunk,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// VoiceResolver maps a voice name to a descriptor; voice.Catalog implements it.
type VoiceResolver interface {
	Resolve(name string) (tts.Voice, error)
}

type job struct {
	Job
	req       Request
	cancelled bool
	cancel    context.CancelFunc
}

type target struct {
	item    string
	chapter int
}

type Service struct {
	cfg      config.GenerationConfig
	chunking config.ChunkingConfig
	rate     int
	lib      *library.Library
	pipe     *pipeline.Pipeline
	voices   VoiceResolver
	strategy timing.Strategy
	bus      *bus.Client
	sub      *nats.Subscription
	metrics  *metrics

	queue   chan *job
	mu      sync.Mutex
	jobs    map[string]*job
	active  map[target]string
	subs    map[int]chan protocol.GenerationProgress
	nextSub int
	closed  bool
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
	clock  func() time.Time
}

// Deps are the collaborators of a Service. Bus may be nil.
type Deps struct {
	Library    *library.Library
	Pipeline   *pipeline.Pipeline
	Voices     VoiceResolver
	Strategy   timing.Strategy
	Bus        *bus.Client
	SampleRate int
}

func NewService(parent context.Context, cfg config.GenerationConfig, chunking config.ChunkingConfig, deps Deps, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	size := cfg.QueueSize
	if size <= 0 {
		size = 16
	}
	s := &Service{
		cfg:      cfg,
		chunking: chunking,
		rate:     deps.SampleRate,
		lib:      deps.Library,
		pipe:     deps.Pipeline,
		voices:   deps.Voices,
		strategy: deps.Strategy,
		bus:      deps.Bus,
		queue:    make(chan *job, size),
		jobs:     make(map[string]*job),
		active:   make(map[target]string),
		subs:     make(map[int]chan protocol.GenerationProgress),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "generation-service")),
		clock:    time.Now,
	}
	m, err := newMetrics()
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	s.metrics = m
	return s
}

// Start launches the worker and, with a bus, listens for requests.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.worker()

	if s.bus != nil {
		sub, err := s.bus.Conn().Subscribe(protocol.SubjectGenerateRequest, s.handleRequest)
		if err != nil {
			return fmt.Errorf("subscribe generation requests: %w", err)
		}
		s.sub = sub
	}
	return nil
}

// Run blocks until ctx is done, then closes the service.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	s.Close()
	return nil
}

// Close stops accepting jobs, cancels the running one at its next chunk
// boundary and waits for the worker to exit.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.closed
}

// Submit validates and enqueues a request. At most one job per item or book
// chapter may be queued or running at a time.
func (s *Service) Submit(ctx context.Context, req Request) (Job, error) {
	chapter := req.ChapterIndex()
	item, err := s.lib.Get(ctx, req.ItemID)
	if err != nil {
		return Job{}, err
	}
	switch {
	case chapter < 0 && item.Kind == library.KindBook:
		return Job{}, &errs.InvalidInputError{Reason: "a chapter is required for books"}
	case chapter >= 0 && item.Kind != library.KindBook:
		return Job{}, library.ErrNotBook
	case chapter >= len(item.Chapters) && item.Kind == library.KindBook:
		return Job{}, library.ErrNoChapter
	}
	if req.Voice == "" {
		req.Voice = item.Voice
	}
	if req.Language == "" {
		req.Language = item.Language
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, ErrClosed
	}
	key := target{item: req.ItemID, chapter: chapter}
	if id, ok := s.active[key]; ok {
		return s.jobs[id].Job, ErrAlreadyRunning
	}
	j := &job{
		Job: Job{
			ID:        uuid.NewString(),
			ItemID:    req.ItemID,
			Chapter:   chapter,
			Voice:     req.Voice,
			Status:    StatusQueued,
			CreatedAt: s.clock().UTC(),
		},
		req: req,
	}
	select {
	case s.queue <- j:
	default:
		return Job{}, ErrQueueFull
	}
	s.jobs[j.ID] = j
	s.active[key] = j.ID
	s.record(j, library.EventQueued, nil)
	s.logger.Info("generation queued", slog.String("job_id", j.ID), slog.String("item_id", j.ItemID), slog.Int("chapter", chapter))
	return j.Job, nil
}

// Cancel stops a job. A queued job never starts; a running job stops at its
// next chunk boundary.
func (s *Service) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	switch j.Status {
	case StatusQueued:
		j.cancelled = true
	case StatusRunning:
		j.cancelled = true
		if j.cancel != nil {
			j.cancel()
		}
	}
	return nil
}

// Busy reports whether any target of itemID has a job queued or running.
func (s *Service) Busy(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range s.active {
		if t.item == itemID {
			return true
		}
	}
	return false
}

// Job returns a snapshot of a job.
func (s *Service) Job(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return j.Job, true
}

// Subscribe returns a stream of progress updates for all jobs. Slow
// subscribers miss updates rather than stalling generation.
func (s *Service) Subscribe() (<-chan protocol.GenerationProgress, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan protocol.GenerationProgress, 64)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.drainQueue()
			return
		case j := <-s.queue:
			s.process(j)
		}
	}
}

// drainQueue marks jobs still queued at shutdown as cancelled.
func (s *Service) drainQueue() {
	for {
		select {
		case j := <-s.queue:
			s.finish(j, StatusCancelled, ErrClosed, nil)
		default:
			return
		}
	}
}

func (s *Service) process(j *job) {
	s.mu.Lock()
	if j.cancelled {
		s.mu.Unlock()
		s.finish(j, StatusCancelled, context.Canceled, nil)
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	j.cancel = cancel
	j.Status = StatusRunning
	j.StartedAt = s.clock().UTC()
	s.mu.Unlock()
	s.record(j, library.EventStarted, nil)

	started := time.Now()
	out, err := s.generate(ctx, j)
	elapsed := time.Since(started)
	switch {
	case err == nil:
		s.metrics.observe(ctx, StatusCompleted, elapsed, len(out.output.Chunks)-out.output.Resumed)
		s.finish(j, StatusCompleted, nil, out)
	case errors.Is(err, context.Canceled):
		s.metrics.observe(ctx, StatusCancelled, elapsed, 0)
		s.finish(j, StatusCancelled, err, nil)
	default:
		s.metrics.observe(ctx, StatusFailed, elapsed, 0)
		s.finish(j, StatusFailed, err, nil)
	}
}

type result struct {
	output     *pipeline.Output
	audioPath  string
	timingPath string
}

func (s *Service) generate(ctx context.Context, j *job) (*result, error) {
	chapter := j.Chapter
	item, err := s.lib.Get(ctx, j.ItemID)
	if err != nil {
		return nil, err
	}
	text, err := s.lib.Text(ctx, j.ItemID, chapter)
	if err != nil {
		return nil, err
	}
	voice, err := s.voices.Resolve(j.req.Voice)
	if err != nil {
		return nil, &errs.InvalidInputError{Reason: err.Error()}
	}
	audioPath, timingPath, err := s.lib.Paths(item, chapter)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		MaxChars:         s.chunking.MaxChars,
		TargetSampleRate: s.rate,
		Strategy:         s.strategy,
		Language:         j.req.Language,
		AudioPath:        audioPath,
		TimingPath:       timingPath,
		PartialDir:       s.lib.PartialDir(j.ItemID, chapter),
		KeepPartial:      j.req.KeepPartial || s.cfg.KeepPartial,
		Progress: func(p tts.Progress) {
			s.progress(j, p)
		},
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = chunker.DefaultMaxChars
	}

	out, err := s.pipe.Run(ctx, pipeline.Document{Text: text, Format: normalize.FormatMarkdown}, voice, opts)
	if err != nil {
		return nil, err
	}
	// The files are in place; record them even if the job is cancelled now.
	if err := s.lib.MarkGenerated(context.WithoutCancel(ctx), j.ItemID, chapter, out.Track.TotalDuration); err != nil {
		return nil, fmt.Errorf("update library: %w", err)
	}
	return &result{output: out, audioPath: audioPath, timingPath: timingPath}, nil
}

func (s *Service) progress(j *job, p tts.Progress) {
	s.mu.Lock()
	j.Completed = p.Completed
	j.Total = p.Total
	msg := protocol.GenerationProgress{
		JobID:       j.ID,
		ItemID:      j.ItemID,
		Chapter:     j.Chapter,
		ChunkIndex:  p.Completed,
		TotalChunks: p.Total,
		Timestamp:   s.clock().UTC(),
	}
	for _, ch := range s.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	s.mu.Unlock()
	s.publish(protocol.SubjectGenerateProgress, msg)
}

// finish records and announces the outcome, then sets the final status.
func (s *Service) finish(j *job, status Status, err error, res *result) {
	msg := protocol.GenerationStatus{
		JobID:     j.ID,
		ItemID:    j.ItemID,
		Chapter:   j.Chapter,
		Status:    string(status),
		Timestamp: s.clock().UTC(),
	}
	if err != nil {
		msg.Error = err.Error()
		if idx, ok := errs.ChunkIndex(err); ok {
			msg.ResumeChunk = idx
		}
	}

	var eventType string
	switch status {
	case StatusCompleted:
		eventType = library.EventCompleted
		msg.AudioPath = res.audioPath
		msg.TimingPath = res.timingPath
		msg.DurationSeconds = res.output.Track.TotalDuration
		s.logger.Info("generation completed", slog.String("job_id", j.ID), slog.Float64("duration_seconds", msg.DurationSeconds))
	case StatusCancelled:
		eventType = library.EventCancelled
		s.logger.Info("generation cancelled", slog.String("job_id", j.ID), slog.Int("resume_chunk", msg.ResumeChunk))
	default:
		eventType = library.EventFailed
		s.logger.Error("generation failed", slog.String("job_id", j.ID), slogError(err))
	}
	s.record(j, eventType, msg)
	s.publish(protocol.SubjectGenerateDone, msg)

	s.mu.Lock()
	j.Status = status
	j.Error = msg.Error
	j.ResumeChunk = msg.ResumeChunk
	j.FinishedAt = msg.Timestamp
	j.cancel = nil
	delete(s.active, target{item: j.ItemID, chapter: j.Chapter})
	s.mu.Unlock()
}

func (s *Service) record(j *job, eventType string, payload any) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			s.logger.Warn("failed to encode event payload", slogError(err))
		}
	}
	evt := library.Event{ItemID: j.ItemID, JobID: j.ID, Chapter: j.Chapter, Type: eventType, Payload: data}
	if err := s.lib.AppendEvent(context.WithoutCancel(s.ctx), evt); err != nil {
		s.logger.Warn("failed to record generation event", slog.String("type", eventType), slogError(err))
	}
}

func (s *Service) publish(subject string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal bus message", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish bus message", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode generation request", slogError(err))
		return
	}
	j, err := s.Submit(s.ctx, req)
	if msg.Reply == "" {
		if err != nil {
			s.logger.Warn("generation request rejected", slog.String("item_id", req.ItemID), slogError(err))
		}
		return
	}
	reply := struct {
		Job   *Job   `json:"job,omitempty"`
		Error string `json:"error,omitempty"`
	}{}
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Job = &j
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply to generation request", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

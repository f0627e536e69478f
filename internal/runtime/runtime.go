package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/generation"
	"github.com/loqalabs/readaloud/internal/library"
	"github.com/loqalabs/readaloud/internal/natsserver"
	"github.com/loqalabs/readaloud/internal/pipeline"
	"github.com/loqalabs/readaloud/internal/protocol"
	"github.com/loqalabs/readaloud/internal/timing"
	"github.com/loqalabs/readaloud/internal/tts"
	"github.com/loqalabs/readaloud/internal/voice"
)

const (
	shutdownTimeout  = 10 * time.Second
	generationStream = "READALOUD_GENERATION"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	ready         atomic.Bool

	bus     *bus.Client
	gen     *generation.Service
	api     *api
	cleanup []func()
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves HTTP and runs the generation worker
// until ctx is cancelled or one of them fails.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}()

	if err := r.setup(ctx); err != nil {
		r.teardown()
		return err
	}
	defer r.teardown()

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.handler(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != addr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.gen.Run(gctx) })
	g.Go(func() error { return serve(r.httpServer) })
	if r.metricsServer != nil {
		g.Go(func() error { return serve(r.metricsServer) })
	}
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if r.metricsServer != nil {
			if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("tts_mode", r.cfg.TTS.Mode),
		slog.String("alignment_mode", r.cfg.Alignment.Mode))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// setup opens the library, builds the speech stack and, when enabled,
// connects the bus. Everything opened is registered for teardown.
func (r *Runtime) setup(ctx context.Context) error {
	lib, err := library.Open(ctx, r.cfg.Library, r.logger)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	r.onTeardown(func() {
		if err := lib.Close(); err != nil {
			r.logger.Error("library close error", slogError(err))
		}
	})

	engine, err := tts.NewEngine(r.cfg.TTS, r.logger)
	if err != nil {
		return fmt.Errorf("create tts engine: %w", err)
	}
	r.onTeardown(func() { _ = engine.Close() })

	voices, err := voice.FromConfig(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("load voices: %w", err)
	}
	strategy, err := timing.StrategyFromConfig(r.cfg.Alignment, r.logger)
	if err != nil {
		return fmt.Errorf("timing strategy: %w", err)
	}

	if r.cfg.Bus.Enabled {
		if err := r.connectBus(ctx); err != nil {
			return err
		}
	}

	driver := tts.NewDriver(engine,
		tts.WithChunkTimeout(time.Duration(r.cfg.TTS.ChunkTimeoutMS)*time.Millisecond),
		tts.WithLogger(r.logger))
	r.gen = generation.NewService(ctx, r.cfg.Generation, r.cfg.Chunking, generation.Deps{
		Library:    lib,
		Pipeline:   pipeline.New(driver, r.logger),
		Voices:     voices,
		Strategy:   strategy,
		Bus:        r.bus,
		SampleRate: r.cfg.TTS.SampleRate,
	}, r.logger)
	r.onTeardown(r.gen.Close)

	cache, err := newTimingCache(defaultTimingCacheSize)
	if err != nil {
		return fmt.Errorf("create timing cache: %w", err)
	}
	r.api = &api{
		lib:     lib,
		gen:     r.gen,
		timings: cache,
		voices:  voices.Names(),
		autoChunk: chunker.AutoChunk{
			WordThreshold: r.cfg.Chunking.AutoChunkWords,
			MinHeadings:   r.cfg.Chunking.MinHeadings,
		},
		logger: r.logger.With(slog.String("component", "http-api")),
	}
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.onTeardown(srv.Shutdown)
		busCfg.Servers = []string{srv.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.bus = client
	r.onTeardown(client.Close)

	maxAge := time.Duration(r.cfg.Library.RetentionDays) * 24 * time.Hour
	if err := client.EnsureStream(generationStream, []string{protocol.SubjectGenerateDone}, maxAge); err != nil {
		r.logger.Warn("generation results will not be retained", slogError(err))
	}
	return nil
}

func (r *Runtime) onTeardown(fn func()) {
	r.cleanup = append(r.cleanup, fn)
}

// teardown releases components in reverse order of creation.
func (r *Runtime) teardown() {
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i]()
	}
	r.cleanup = nil
}

func (r *Runtime) handler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	r.api.routes(mux)
	return mux
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	}
	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.gen.Healthy() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

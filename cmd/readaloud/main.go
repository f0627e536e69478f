package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/readaloud/internal/chunker"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/errs"
	"github.com/loqalabs/readaloud/internal/normalize"
	"github.com/loqalabs/readaloud/internal/pipeline"
	"github.com/loqalabs/readaloud/internal/timing"
	"github.com/loqalabs/readaloud/internal/tts"
	"github.com/loqalabs/readaloud/internal/voice"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'generate', 'chunk', 'check' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(os.Args[2:])
	case "chunk":
		err = runChunk(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var genErr *errs.GenerationError
		if errors.As(err, &genErr) {
			fmt.Fprintf(os.Stderr, "rerun with the same -partial-dir to resume from chunk %d\n", genErr.ChunkIndex)
		}
		os.Exit(1)
	}
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		configPath  = fs.String("config", "", "Path to configuration file")
		in          = fs.String("in", "", "Document to read aloud (.md or .txt)")
		out         = fs.String("out", "", "Output WAV path (default: input name with .wav)")
		timingOut   = fs.String("timing", "", "Output timing path (default: output name with .json)")
		voiceName   = fs.String("voice", "", "Voice profile name")
		partialDir  = fs.String("partial-dir", "", "Directory for resumable chunk audio")
		keepPartial = fs.Bool("keep-partial", false, "Keep completed chunks when interrupted")
	)
	fs.Parse(args)
	if *in == "" {
		return errors.New("generate: -in is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Telemetry, os.Stderr)

	raw, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	audioPath := *out
	if audioPath == "" {
		audioPath = strings.TrimSuffix(*in, filepath.Ext(*in)) + ".wav"
	}
	timingPath := *timingOut
	if timingPath == "" {
		timingPath = strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
	}
	if *keepPartial && *partialDir == "" {
		*partialDir = audioPath + ".partial"
	}

	engine, err := tts.NewEngine(cfg.TTS, logger)
	if err != nil {
		return err
	}
	defer engine.Close()
	catalog, err := voice.FromConfig(cfg.TTS)
	if err != nil {
		return err
	}
	v, err := catalog.Resolve(*voiceName)
	if err != nil {
		return err
	}
	strategy, err := timing.StrategyFromConfig(cfg.Alignment, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := tts.NewDriver(engine,
		tts.WithChunkTimeout(time.Duration(cfg.TTS.ChunkTimeoutMS)*time.Millisecond),
		tts.WithLogger(logger))
	started := time.Now()
	res, err := pipeline.New(driver, logger).Run(ctx, pipeline.Document{Text: string(raw), Format: formatOf(*in)}, v, pipeline.Options{
		MaxChars:         cfg.Chunking.MaxChars,
		TargetSampleRate: cfg.TTS.SampleRate,
		Strategy:         strategy,
		Language:         cfg.TTS.Language,
		AudioPath:        audioPath,
		TimingPath:       timingPath,
		PartialDir:       *partialDir,
		KeepPartial:      *keepPartial,
		Progress: func(p tts.Progress) {
			fmt.Fprintf(os.Stderr, "\rchunk %d/%d", p.Completed, p.Total)
		},
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	if res.Resumed > 0 {
		fmt.Printf("resumed after %d chunks\n", res.Resumed)
	}
	fmt.Printf("wrote %s (%.2fs, %d chunks, %d sentences) and %s in %s\n",
		audioPath, res.Track.TotalDuration, len(res.Chunks), len(res.Timing.Sentences),
		timingPath, time.Since(started).Round(time.Millisecond))
	return nil
}

func runChunk(args []string) error {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	var (
		in        = fs.String("in", "", "Document to chunk")
		maxChars  = fs.Int("max", chunker.DefaultMaxChars, "Maximum display width of a chunk")
		statsOnly = fs.Bool("stats", false, "Only print statistics")
	)
	fs.Parse(args)
	if *in == "" {
		return errors.New("chunk: -in is required")
	}
	raw, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	text, err := normalize.Text(string(raw), formatOf(*in))
	if err != nil {
		return err
	}

	stats := chunker.Stats(text, *maxChars)
	fmt.Printf("characters: %d\nwords: %d\nsentences: %d\nchunks: %d\nestimated duration: %s\n",
		stats.Characters, stats.Words, stats.Sentences, stats.Chunks, stats.EstimatedDuration.Round(time.Second))
	if *statsOnly {
		return nil
	}
	for _, c := range chunker.Split(text, *maxChars) {
		fmt.Printf("\n[%d] %d-%d width=%d\n%s\n", c.Index, c.CharStart, c.CharEnd, chunker.Width(c.Text), c.Text)
	}
	return nil
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	var (
		file = fs.String("file", "", "Timing file to validate")
		at   = fs.Float64("t", -1, "Resolve the position at this playback time")
	)
	fs.Parse(args)
	if *file == "" {
		return errors.New("check: -file is required")
	}
	m, err := timing.Load(*file)
	if err != nil {
		return err
	}
	words := 0
	for _, s := range m.Sentences {
		words += len(s.Words)
	}
	fmt.Printf("timing valid: version %s, %.2fs, %d sentences, %d words\n", m.Version, m.AudioDuration, len(m.Sentences), words)
	if *at >= 0 {
		pos := timing.Resolve(m, *at)
		if pos.Sentence < 0 {
			fmt.Println("no sentences")
			return nil
		}
		s := m.Sentences[pos.Sentence]
		fmt.Printf("t=%.2fs sentence %d (%.0f%%): %s\n", *at, pos.Sentence, pos.SentenceProgress*100, s.Text)
		if pos.Word >= 0 {
			fmt.Printf("word %d: %s\n", pos.Word, s.Words[pos.Word].Word)
		}
	}
	return nil
}

func formatOf(path string) normalize.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return normalize.FormatMarkdown
	default:
		return normalize.FormatPlain
	}
}

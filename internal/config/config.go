package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Library     LibraryConfig    `yaml:"library"`
	Chunking    ChunkingConfig   `yaml:"chunking"`
	TTS         TTSConfig        `yaml:"tts"`
	Alignment   AlignmentConfig  `yaml:"alignment"`
	Generation  GenerationConfig `yaml:"generation"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type LibraryConfig struct {
	Directory     string `yaml:"directory"`
	IndexPath     string `yaml:"index_path"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ChunkingConfig struct {
	MaxChars       int `yaml:"max_chars"`
	AutoChunkWords int `yaml:"auto_chunk_words"`
	MinHeadings    int `yaml:"min_headings"`
}

type TTSConfig struct {
	Mode           string `yaml:"mode"` // mock, exec, piper
	Command        string `yaml:"command"`
	Endpoint       string `yaml:"endpoint"`
	Voice          string `yaml:"voice"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	ChunkTimeoutMS int    `yaml:"chunk_timeout_ms"`
	VoicesFile     string `yaml:"voices_file"`
}

type AlignmentConfig struct {
	Mode     string `yaml:"mode"` // estimate, align
	Command  string `yaml:"command"`
	Language string `yaml:"language"`
}

type GenerationConfig struct {
	QueueSize   int  `yaml:"queue_size"`
	KeepPartial bool `yaml:"keep_partial"`
}

func Default() Config {
	return Config{
		RuntimeName: "readaloud",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Library: LibraryConfig{
			Directory:     "./data/library",
			IndexPath:     "./data/library/index.db",
			RetentionDays: 30,
		},
		Chunking: ChunkingConfig{
			MaxChars:       800,
			AutoChunkWords: 5000,
			MinHeadings:    2,
		},
		TTS: TTSConfig{
			Mode:           "mock",
			Endpoint:       "localhost:10200",
			Voice:          "default",
			Language:       "english",
			SampleRate:     24000,
			Channels:       1,
			ChunkTimeoutMS: 120000,
		},
		Alignment: AlignmentConfig{
			Mode:     "estimate",
			Language: "en",
		},
		Generation: GenerationConfig{
			QueueSize:   16,
			KeepPartial: false,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "READALOUD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "READALOUD_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "READALOUD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "READALOUD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "READALOUD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "READALOUD_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "READALOUD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "READALOUD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "READALOUD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "READALOUD_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "READALOUD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "READALOUD_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "READALOUD_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "READALOUD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "READALOUD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "READALOUD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "READALOUD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "READALOUD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "READALOUD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Library.Directory, "READALOUD_LIBRARY_DIRECTORY")
	overrideString(&cfg.Library.IndexPath, "READALOUD_LIBRARY_INDEX_PATH")
	overrideInt(&cfg.Library.RetentionDays, "READALOUD_LIBRARY_RETENTION_DAYS")
	overrideBool(&cfg.Library.VacuumOnStart, "READALOUD_LIBRARY_VACUUM_ON_START")
	overrideInt(&cfg.Chunking.MaxChars, "READALOUD_CHUNKING_MAX_CHARS")
	overrideInt(&cfg.Chunking.AutoChunkWords, "READALOUD_CHUNKING_AUTO_CHUNK_WORDS")
	overrideInt(&cfg.Chunking.MinHeadings, "READALOUD_CHUNKING_MIN_HEADINGS")
	overrideString(&cfg.TTS.Mode, "READALOUD_TTS_MODE")
	overrideString(&cfg.TTS.Command, "READALOUD_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "READALOUD_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Voice, "READALOUD_TTS_VOICE")
	overrideString(&cfg.TTS.Language, "READALOUD_TTS_LANGUAGE")
	overrideInt(&cfg.TTS.SampleRate, "READALOUD_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "READALOUD_TTS_CHANNELS")
	overrideInt(&cfg.TTS.ChunkTimeoutMS, "READALOUD_TTS_CHUNK_TIMEOUT_MS")
	overrideString(&cfg.TTS.VoicesFile, "READALOUD_TTS_VOICES_FILE")
	overrideString(&cfg.Alignment.Mode, "READALOUD_ALIGNMENT_MODE")
	overrideString(&cfg.Alignment.Command, "READALOUD_ALIGNMENT_COMMAND")
	overrideString(&cfg.Alignment.Language, "READALOUD_ALIGNMENT_LANGUAGE")
	overrideInt(&cfg.Generation.QueueSize, "READALOUD_GENERATION_QUEUE_SIZE")
	overrideBool(&cfg.Generation.KeepPartial, "READALOUD_GENERATION_KEEP_PARTIAL")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogFormat) {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Library.Directory == "" {
		return errors.New("library.directory must not be empty")
	}
	if cfg.Library.IndexPath == "" {
		return errors.New("library.index_path must not be empty")
	}
	if cfg.Library.RetentionDays < 0 {
		return errors.New("library.retention_days must be >= 0")
	}
	if cfg.Chunking.MaxChars <= 0 {
		return errors.New("chunking.max_chars must be positive")
	}
	if cfg.Chunking.AutoChunkWords <= 0 {
		return errors.New("chunking.auto_chunk_words must be positive")
	}
	if cfg.Chunking.MinHeadings < 1 {
		return errors.New("chunking.min_headings must be >= 1")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec", "piper":
	default:
		return errors.New("tts.mode must be one of mock|exec|piper")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Mode == "piper" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.endpoint must be set when mode=piper")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.ChunkTimeoutMS < 0 {
		return errors.New("tts.chunk_timeout_ms must be >= 0")
	}
	switch cfg.Alignment.Mode {
	case "estimate":
	case "align":
		if cfg.Alignment.Command == "" {
			return errors.New("alignment.command must be set when mode=align")
		}
	default:
		return errors.New("alignment.mode must be one of estimate|align")
	}
	if cfg.Generation.QueueSize <= 0 {
		return errors.New("generation.queue_size must be positive")
	}
	return nil
}

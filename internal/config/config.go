package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Span exporter kinds.
const (
	ExporterLog   = "log"
	ExporterFile  = "file"
	ExporterStore = "store"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = ":memory:"
	defaultLogFormat         = "json"
	defaultSpanExporter      = ExporterStore
	defaultSpanFile          = "spans.jsonl"
	defaultSpanBatchSize     = 100
	defaultSpanFlushInterval = 5 * time.Second

	envListenAddr        = "COMPUTED_LISTEN_ADDR"
	envDBPath            = "COMPUTED_DB_PATH"
	envLogLevel          = "COMPUTED_LOG_LEVEL"
	envLogFormat         = "COMPUTED_LOG_FORMAT"
	envSpanExporter      = "COMPUTED_SPAN_EXPORTER"
	envSpanFile          = "COMPUTED_SPAN_FILE"
	envSpanBatchSize     = "COMPUTED_SPAN_BATCH_SIZE"
	envSpanFlushInterval = "COMPUTED_SPAN_FLUSH_INTERVAL"
	envCatalog           = "COMPUTED_CATALOG"
)

// Config holds compute service configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	LogFormat  string

	// SpanExporter selects where finished spans go: log, file, or store.
	// The store exporter batches spans into the database.
	SpanExporter      string
	SpanFile          string
	SpanBatchSize     int
	SpanFlushInterval time.Duration

	// Catalog is an optional HCL file of publishable task descriptors.
	Catalog string
}

// Load reads configuration from environment variables with sensible defaults.
// Unparseable numbers and durations keep their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:        defaultListenAddr,
		DBPath:            defaultDBPath,
		LogLevel:          slog.LevelInfo,
		LogFormat:         defaultLogFormat,
		SpanExporter:      defaultSpanExporter,
		SpanFile:          defaultSpanFile,
		SpanBatchSize:     defaultSpanBatchSize,
		SpanFlushInterval: defaultSpanFlushInterval,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envLogFormat); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv(envSpanExporter); v != "" {
		cfg.SpanExporter = strings.ToLower(v)
	}
	if v := os.Getenv(envSpanFile); v != "" {
		cfg.SpanFile = v
	}
	if n, err := strconv.Atoi(os.Getenv(envSpanBatchSize)); err == nil && n > 0 {
		cfg.SpanBatchSize = n
	}
	if d, err := time.ParseDuration(os.Getenv(envSpanFlushInterval)); err == nil && d > 0 {
		cfg.SpanFlushInterval = d
	}
	cfg.Catalog = os.Getenv(envCatalog)

	return cfg
}

// Validate rejects settings that have no sensible fallback.
func (c Config) Validate() error {
	switch c.SpanExporter {
	case ExporterLog, ExporterFile, ExporterStore:
	default:
		return fmt.Errorf("%s: unknown span exporter %q", envSpanExporter, c.SpanExporter)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%s: unknown log format %q", envLogFormat, c.LogFormat)
	}
	return nil
}

// ParseLogLevel maps a level name to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	return parseLogLevel(s)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w at the given level.
// format is "json" or "text"; anything else selects JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

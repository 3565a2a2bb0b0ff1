package tracing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/seantiz/gridrelay/internal/model"
)

// Exporter receives each finished span exactly once. Implementations must
// be safe for concurrent use and must not block the call for long.
type Exporter interface {
	Export(span model.Span)
}

// ExporterFunc adapts a function to the Exporter interface.
type ExporterFunc func(span model.Span)

func (f ExporterFunc) Export(span model.Span) { f(span) }

// Record is the one-line export form of a finished span.
type Record struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id"`
	Operation    string `json:"operation"`
	DurationMS   int64  `json:"duration_ms"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// NewRecord builds the export record for span.
func NewRecord(span model.Span) Record {
	return Record{
		TraceID:      span.TraceID,
		SpanID:       span.SpanID,
		ParentSpanID: span.ParentSpanID,
		Operation:    span.OperationName,
		DurationMS:   span.Duration().Milliseconds(),
		Status:       span.Status,
		Error:        span.ErrorMessage,
	}
}

// LogExporter writes one structured log record per span.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates an exporter logging to logger.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) Export(span model.Span) {
	rec := NewRecord(span)
	attrs := []any{
		"trace_id", rec.TraceID,
		"span_id", rec.SpanID,
		"parent_span_id", rec.ParentSpanID,
		"operation", rec.Operation,
		"duration_ms", rec.DurationMS,
		"status", rec.Status,
	}
	if rec.Error != "" {
		attrs = append(attrs, "error", rec.Error)
	}
	e.logger.Info("span", attrs...)
	spansExported.WithLabelValues("log").Inc()
}

// FileExporter appends one JSON line per span to a file.
type FileExporter struct {
	mu     sync.Mutex
	f      *os.File
	logger *slog.Logger
}

// NewFileExporter opens (or creates) path for appending.
func NewFileExporter(path string, logger *slog.Logger) (*FileExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open span file: %w", err)
	}
	return &FileExporter{f: f, logger: logger}, nil
}

func (e *FileExporter) Export(span model.Span) {
	data, err := json.Marshal(NewRecord(span))
	if err != nil {
		e.logger.Error("marshal span record", "span_id", span.SpanID, "error", err)
		return
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.f.Write(data); err != nil {
		e.logger.Error("write span record", "span_id", span.SpanID, "error", err)
		return
	}
	spansExported.WithLabelValues("file").Inc()
}

// Close closes the underlying file.
func (e *FileExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.f.Close()
}

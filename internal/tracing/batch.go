package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/gridrelay/internal/model"
)

// Batch defaults.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
)

// retainBatches is how many batches' worth of spans a failing sink may
// leave buffered for retry.
const retainBatches = 10

// BatchSink receives accumulated spans. It may be called from several
// goroutines at once, but never with the same span twice.
type BatchSink interface {
	ExportBatch(ctx context.Context, spans []model.Span) error
}

// SinkFunc adapts a function to the BatchSink interface.
type SinkFunc func(ctx context.Context, spans []model.Span) error

func (f SinkFunc) ExportBatch(ctx context.Context, spans []model.Span) error { return f(ctx, spans) }

// BatchExporter accumulates spans and flushes them to a sink when the batch
// reaches its size threshold or when the flush interval elapses, whichever
// comes first. Each flush swaps the buffer out under the lock, so a span is
// accepted by the sink at most once. A batch the sink rejects is put back
// for the next flush; spans beyond the retention limit are dropped and
// counted.
type BatchExporter struct {
	sink     BatchSink
	size     int
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	buf    []model.Span
	closed bool

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewBatchExporter creates a batch exporter and starts its flusher.
// Non-positive size or interval fall back to the defaults.
func NewBatchExporter(sink BatchSink, size int, interval time.Duration, logger *slog.Logger) *BatchExporter {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	e := &BatchExporter{
		sink:     sink,
		size:     size,
		interval: interval,
		logger:   logger,
		buf:      make([]model.Span, 0, size),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go e.run()
	return e
}

// Export adds span to the current batch, flushing it if full. After
// Shutdown the span is written to the sink directly.
func (e *BatchExporter) Export(span model.Span) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.write([]model.Span{span}, "closed")
		return
	}
	e.buf = append(e.buf, span)
	var batch []model.Span
	if len(e.buf) >= e.size {
		batch = e.drainLocked()
	}
	e.mu.Unlock()

	if batch != nil {
		e.write(batch, "size")
	}
}

// Flush exports whatever has accumulated.
func (e *BatchExporter) Flush() {
	e.mu.Lock()
	batch := e.drainLocked()
	e.mu.Unlock()

	if batch != nil {
		e.write(batch, "interval")
	}
}

// Shutdown stops the flusher and exports the remaining spans.
func (e *BatchExporter) Shutdown(ctx context.Context) error {
	e.once.Do(func() { close(e.done) })
	select {
	case <-e.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *BatchExporter) run() {
	defer close(e.stopped)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Flush()
		case <-e.done:
			e.Flush()

			// A batch that failed the final flush gets one more try.
			e.mu.Lock()
			e.closed = true
			rest := e.drainLocked()
			e.mu.Unlock()
			if rest != nil {
				e.write(rest, "shutdown")
			}
			return
		}
	}
}

// drainLocked swaps out the buffer. Callers must hold e.mu.
func (e *BatchExporter) drainLocked() []model.Span {
	if len(e.buf) == 0 {
		return nil
	}
	batch := e.buf
	e.buf = make([]model.Span, 0, e.size)
	return batch
}

func (e *BatchExporter) write(batch []model.Span, trigger string) {
	if err := e.sink.ExportBatch(context.Background(), batch); err != nil {
		e.logger.Error("export span batch", "spans", len(batch), "trigger", trigger, "error", err)
		e.retain(batch)
		return
	}
	spanBatches.WithLabelValues(trigger).Inc()
	spansExported.WithLabelValues("batch").Add(float64(len(batch)))
}

// retain puts a rejected batch back in front of the buffer, oldest spans
// first. Once closed nothing flushes again, so the batch is dropped.
func (e *BatchExporter) retain(batch []model.Span) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room := e.size*retainBatches - len(e.buf)
	switch {
	case e.closed || room <= 0:
		e.drop(len(batch))
		return
	case len(batch) > room:
		e.drop(len(batch) - room)
		batch = batch[len(batch)-room:]
	}

	merged := make([]model.Span, 0, len(batch)+len(e.buf))
	merged = append(merged, batch...)
	e.buf = append(merged, e.buf...)
}

func (e *BatchExporter) drop(n int) {
	spansDropped.Add(float64(n))
	e.logger.Warn("dropped spans", "spans", n)
}

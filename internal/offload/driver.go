package offload

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/gridrelay/internal/tracing"
)

// DefaultInterval is the cycle rate used by NewDriver for non-positive
// intervals.
const DefaultInterval = 10 * time.Second

// Driver runs offload cycles of one job at a fixed rate. Cycles never
// overlap; ticks that fire while a cycle is still running are dropped.
type Driver[I, O any] struct {
	client   *Client[I, O]
	job      Job[I, O]
	interval time.Duration
	logger   *slog.Logger

	// onOutcome, when set, observes every finished cycle.
	onOutcome func(Outcome, error)
}

// NewDriver creates a driver running job through c every interval.
func NewDriver[I, O any](c *Client[I, O], job Job[I, O], interval time.Duration, logger *slog.Logger) *Driver[I, O] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver[I, O]{
		client:   c,
		job:      job,
		interval: interval,
		logger:   logger,
	}
}

// OnOutcome registers fn to observe each cycle. It must be called before Run.
func (d *Driver[I, O]) OnOutcome(fn func(Outcome, error)) {
	d.onOutcome = fn
}

// Run executes a cycle immediately and then on every tick until ctx is
// cancelled. Cycle failures are logged and do not stop the driver.
func (d *Driver[I, O]) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.runCycle(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runCycle runs one cycle under a trace of its own.
func (d *Driver[I, O]) runCycle(ctx context.Context) {
	prop := tracing.NewPropagator()
	ctx = tracing.ContextWithPropagator(ctx, prop)

	start := time.Now()
	out, err := d.client.Cycle(ctx, d.job)

	result := "ok"
	if err != nil {
		result = "error"
		d.logger.Error("offload cycle failed",
			"task_id", out.TaskID,
			"trace_id", prop.TraceID(),
			"error", err,
		)
	} else {
		d.logger.Info("offload cycle finished",
			"task_id", out.TaskID,
			"trace_id", prop.TraceID(),
			"path", out.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	cyclesTotal.WithLabelValues(out.Path, result).Inc()

	if d.onOutcome != nil {
		d.onOutcome(out, err)
	}
}

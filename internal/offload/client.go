package offload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/rpc"
	"github.com/seantiz/gridrelay/internal/task"
)

// DefaultDeadline bounds the remote path of one cycle.
const DefaultDeadline = 3 * time.Second

// Paths a cycle result can come from.
const (
	PathRemote = "remote"
	PathLocal  = "local"
)

var (
	// ErrNoResult means the result stream ended before a terminal result.
	ErrNoResult = errors.New("result stream ended without a terminal result")

	// ErrRemoteFailed means the service ran the task and reported FAILED.
	ErrRemoteFailed = errors.New("remote task failed")

	// ErrSerialization means the task input or output could not be
	// converted to or from its wire form.
	ErrSerialization = errors.New("task serialization failed")
)

// Job is the caller state a cycle reads its input from and applies its
// result to.
type Job[I, O any] interface {
	Input() I
	Seed() uint64
	Apply(out O)
}

// Remote is the part of the compute service an offload cycle uses.
// *rpc.Client satisfies it.
type Remote interface {
	SubmitTask(ctx context.Context, req model.TaskRequest) (string, error)
	StreamResults(ctx context.Context, taskID string) (rpc.ResultStream, error)
}

// Outcome describes a finished cycle. Err is the remote failure that caused
// a local fallback; it is nil for remote results and for clients without a
// remote.
type Outcome struct {
	TaskID string
	Path   string
	Err    error
}

// CycleError reports a cycle whose local execution failed. No result was
// applied.
type CycleError struct {
	TaskID string
	// Remote is why the remote path was abandoned, if it was tried.
	Remote error
	Err    error
}

func (e *CycleError) Error() string {
	if e.Remote != nil {
		return fmt.Sprintf("cycle %s: local fallback failed: %v (remote: %v)", e.TaskID, e.Err, e.Remote)
	}
	return fmt.Sprintf("cycle %s: local run failed: %v", e.TaskID, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

type options struct {
	deadline time.Duration
	version  int
}

// Option configures a Client.
type Option func(*options)

// WithDeadline sets the bound on the remote path of a cycle.
func WithDeadline(d time.Duration) Option {
	return func(o *options) { o.deadline = d }
}

// WithVersion sets the task version written into envelopes.
func WithVersion(v int) Option {
	return func(o *options) { o.version = v }
}

// Client performs offload cycles of one task type. A Client is used by one
// driver at a time; it is not meant for concurrent cycles.
type Client[I, O any] struct {
	task    task.Task[I, O]
	remote  Remote
	ids     *model.RequestIDs
	logger  *slog.Logger
	options options
}

// NewClient creates a client for t. With a nil remote every cycle runs
// locally and no call is attempted.
func NewClient[I, O any](t task.Task[I, O], remote Remote, logger *slog.Logger, opts ...Option) *Client[I, O] {
	o := options{deadline: DefaultDeadline, version: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client[I, O]{
		task:    t,
		remote:  remote,
		ids:     &model.RequestIDs{},
		logger:  logger,
		options: o,
	}
}

// Cycle runs one offload cycle for job. The returned error is a *CycleError
// when the local run failed; the remote path never fails a cycle.
func (c *Client[I, O]) Cycle(ctx context.Context, job Job[I, O]) (Outcome, error) {
	id := c.ids.Next(c.task.Type())
	in, seed := job.Input(), job.Seed()

	var remoteErr error
	if c.remote != nil {
		out, err := c.runRemote(ctx, id, in, seed)
		if err == nil {
			job.Apply(out)
			return Outcome{TaskID: id, Path: PathRemote}, nil
		}
		remoteErr = err
		c.logger.Warn("remote execution unavailable, running locally",
			"task_id", id,
			"error", err,
		)
	}

	out, err := task.Run(ctx, c.task, in, seed)
	if err != nil {
		return Outcome{TaskID: id, Path: PathLocal, Err: remoteErr}, &CycleError{TaskID: id, Remote: remoteErr, Err: err}
	}
	job.Apply(out)
	return Outcome{TaskID: id, Path: PathLocal, Err: remoteErr}, nil
}

// runRemote submits the task and waits for its terminal result. Nothing is
// applied here, so a result arriving after the deadline is simply dropped.
func (c *Client[I, O]) runRemote(ctx context.Context, id string, in I, seed uint64) (O, error) {
	var zero O

	payload, err := task.Encode(c.task.Type(), c.options.version, seed, in)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.options.deadline)
	defer cancel()

	start := time.Now()
	accepted, err := c.remote.SubmitTask(ctx, model.TaskRequest{
		TaskID:         id,
		Payload:        payload,
		SubmissionTime: start,
	})
	if err != nil {
		return zero, fmt.Errorf("submit: %w", err)
	}

	stream, err := c.remote.StreamResults(ctx, accepted)
	if err != nil {
		return zero, fmt.Errorf("stream results: %w", err)
	}
	defer stream.Close()

	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return zero, ErrNoResult
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, fmt.Errorf("await result: %w", ctxErr)
			}
			return zero, fmt.Errorf("await result: %w", err)
		}

		switch res.Status {
		case model.StatusCompleted:
			var out O
			if err := json.Unmarshal(res.Output, &out); err != nil {
				return zero, fmt.Errorf("%w: decode output: %v", ErrSerialization, err)
			}
			remoteLatency.Observe(time.Since(start).Seconds())
			c.logger.Debug("remote result received",
				"task_id", id,
				"accepted_task_id", accepted,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return out, nil
		case model.StatusFailed:
			return zero, fmt.Errorf("%w: %s", ErrRemoteFailed, res.ErrorMessage)
		}
	}
}

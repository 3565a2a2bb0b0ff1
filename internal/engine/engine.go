package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/store"
	"github.com/seantiz/gridrelay/internal/task"
)

// DefaultTimeout bounds a single task execution.
const DefaultTimeout = 30 * time.Second

// Executor runs a serialized task payload. *task.Registry satisfies it.
type Executor interface {
	Execute(ctx context.Context, payload []byte) (json.RawMessage, error)
}

// Engine orchestrates asynchronous task execution.
type Engine struct {
	store    store.Store
	executor Executor
	logger   *slog.Logger
	timeout  time.Duration
	broker   *ResultBroker

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a new execution engine. A non-positive timeout selects
// DefaultTimeout.
func NewEngine(s store.Store, exec Executor, timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    s,
		executor: exec,
		logger:   logger,
		timeout:  timeout,
		broker:   NewResultBroker(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Broker returns the engine's result broker for stream subscription.
func (e *Engine) Broker() *ResultBroker {
	return e.broker
}

// Submit validates req, stores it as PENDING under a fresh service-side id
// and launches execution in a goroutine. The returned record carries the
// accepted id, which differs from the client's task id.
func (e *Engine) Submit(ctx context.Context, req model.TaskRequest) (*model.TaskRecord, error) {
	env, err := task.Decode(req.Payload)
	if err != nil {
		return nil, err
	}

	submitted := req.SubmissionTime
	if submitted.IsZero() {
		submitted = time.Now()
	}
	rec := &model.TaskRecord{
		ID:           model.NewID(),
		ClientTaskID: req.TaskID,
		Type:         env.Type,
		Status:       model.StatusPending,
		Payload:      req.Payload,
		SubmittedAt:  submitted.UTC(),
	}
	if err := e.store.CreateTask(ctx, rec); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	recCopy := *rec
	e.wg.Go(func() {
		e.execute(&recCopy)
	})

	return rec, nil
}

// Wait blocks until all in-flight task goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown cancels running tasks and waits for their goroutines to exit.
func (e *Engine) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

// execute runs the task lifecycle: PENDING→RUNNING→COMPLETED/FAILED.
func (e *Engine) execute(rec *model.TaskRecord) {
	defer e.broker.Close(rec.ID)

	tasksInFlight.Inc()
	defer tasksInFlight.Dec()

	if err := e.store.UpdateTaskStatus(context.Background(), rec.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "task_id", rec.ID, "error", err)
		e.finish(rec, nil, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}
	e.broker.Publish(model.TaskResult{TaskID: rec.ID, Status: model.StatusRunning})

	start := time.Now()
	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()

	out, err := e.run(ctx, rec.Payload)
	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("task timed out after %s", e.timeout)
		}
		e.finish(rec, &start, nil, msg)
		return
	}

	e.finish(rec, &start, out, "")
}

// run calls the executor, turning a panic in task code into an error.
func (e *Engine) run(ctx context.Context, payload []byte) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return e.executor.Execute(ctx, payload)
}

// finish records the terminal state and publishes it. The task failed when
// errMsg is non-empty. startedAt is nil if execution never started.
func (e *Engine) finish(rec *model.TaskRecord, startedAt *time.Time, out json.RawMessage, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		elapsed := time.Since(*startedAt)
		durationMS = int(elapsed.Milliseconds())
		taskDuration.WithLabelValues(rec.Type).Observe(elapsed.Seconds())
	}

	done := &model.TaskRecord{
		ID:         rec.ID,
		Status:     model.StatusCompleted,
		Output:     out,
		DurationMS: &durationMS,
		FinishedAt: &now,
	}
	if errMsg != "" {
		done.Status = model.StatusFailed
		done.Output = nil
		done.Error = errMsg
	}

	if err := e.store.FinishTask(context.Background(), done); err != nil {
		e.logger.Error("failed to record finished task", "task_id", rec.ID, "status", done.Status, "error", err)
	}
	tasksTotal.WithLabelValues(rec.Type, done.Status).Inc()

	e.logger.Info("task finished",
		"task_id", rec.ID,
		"client_task_id", rec.ClientTaskID,
		"type", rec.Type,
		"status", done.Status,
		"duration_ms", durationMS,
	)
	e.broker.Publish(done.Result())
}

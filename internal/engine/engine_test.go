package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seantiz/gridrelay/internal/engine"
	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/store"
	"github.com/seantiz/gridrelay/internal/task"
)

// delayExecutor is a configurable stub executor for engine tests.
type delayExecutor struct {
	delay  time.Duration
	output json.RawMessage
	err    error
}

func (d *delayExecutor) Execute(ctx context.Context, _ []byte) (json.RawMessage, error) {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.output, nil
}

// panicExecutor panics instead of returning.
type panicExecutor struct{}

func (panicExecutor) Execute(context.Context, []byte) (json.RawMessage, error) {
	panic("index out of range")
}

func newTestEngine(t *testing.T, exec engine.Executor, timeout time.Duration) (*engine.Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(s, exec, timeout, logger)
	t.Cleanup(eng.Shutdown)
	return eng, s
}

func makeRequest(t *testing.T, trials int) model.TaskRequest {
	t.Helper()
	payload, err := task.Encode(task.PiTaskType, 1, 7, task.PiInput{Trials: trials})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return model.TaskRequest{
		TaskID:         "montecarlo.pi-1",
		Payload:        payload,
		SubmissionTime: time.Now(),
	}
}

// waitForStatus polls the store until the task reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.TaskRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r, err := s.GetTask(context.Background(), id)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if r.Status == expected {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestSubmitHappyPath(t *testing.T) {
	exec := &delayExecutor{delay: 20 * time.Millisecond, output: json.RawMessage(`{"ok":true}`)}
	eng, s := newTestEngine(t, exec, 0)

	req := makeRequest(t, 10)
	rec, err := eng.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.ID == req.TaskID {
		t.Errorf("accepted id = client id %q, want a service-side id", rec.ID)
	}
	if rec.ClientTaskID != req.TaskID {
		t.Errorf("client_task_id = %q, want %q", rec.ClientTaskID, req.TaskID)
	}
	if rec.Type != task.PiTaskType {
		t.Errorf("type = %q, want %q", rec.Type, task.PiTaskType)
	}

	completed := waitForStatus(t, s, rec.ID, model.StatusCompleted, 5*time.Second)
	if string(completed.Output) != `{"ok":true}` {
		t.Errorf("output = %s, want {\"ok\":true}", completed.Output)
	}
	if completed.DurationMS == nil || *completed.DurationMS <= 0 {
		t.Errorf("duration_ms = %v, want > 0", completed.DurationMS)
	}
	if completed.StartedAt == nil {
		t.Error("started_at is nil")
	}
	if completed.FinishedAt == nil {
		t.Error("finished_at is nil")
	}
}

func TestSubmitRealRegistry(t *testing.T) {
	eng, s := newTestEngine(t, task.Builtin(), 0)

	rec, err := eng.Submit(context.Background(), makeRequest(t, 50_000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	completed := waitForStatus(t, s, rec.ID, model.StatusCompleted, 5*time.Second)
	var out task.PiOutput
	if err := json.Unmarshal(completed.Output, &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out.Trials != 50_000 {
		t.Errorf("trials = %d, want 50000", out.Trials)
	}
	if out.Estimate < 3 || out.Estimate > 3.3 {
		t.Errorf("estimate = %f, want roughly pi", out.Estimate)
	}
}

func TestSubmitExecutionError(t *testing.T) {
	exec := &delayExecutor{err: errors.New("task crashed")}
	eng, s := newTestEngine(t, exec, 0)

	rec, err := eng.Submit(context.Background(), makeRequest(t, 10))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, rec.ID, model.StatusFailed, 5*time.Second)
	if failed.Error != "task crashed" {
		t.Errorf("error = %q, want %q", failed.Error, "task crashed")
	}
	if failed.Output != nil {
		t.Errorf("output = %s, want none", failed.Output)
	}
}

func TestSubmitRecoversTaskPanic(t *testing.T) {
	eng, s := newTestEngine(t, panicExecutor{}, 0)

	rec, err := eng.Submit(context.Background(), makeRequest(t, 10))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, rec.ID, model.StatusFailed, 5*time.Second)
	if failed.Error != "panic: index out of range" {
		t.Errorf("error = %q, want %q", failed.Error, "panic: index out of range")
	}

	// The engine keeps serving after a panicking task.
	next, err := eng.Submit(context.Background(), makeRequest(t, 10))
	if err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	waitForStatus(t, s, next.ID, model.StatusFailed, 5*time.Second)
}

func TestSubmitTimeout(t *testing.T) {
	exec := &delayExecutor{delay: 5 * time.Second}
	eng, s := newTestEngine(t, exec, 50*time.Millisecond)

	rec, err := eng.Submit(context.Background(), makeRequest(t, 10))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, rec.ID, model.StatusFailed, 5*time.Second)
	if failed.Error == "" {
		t.Error("expected a timeout error message")
	}
}

func TestSubmitRejectsBadPayload(t *testing.T) {
	eng, _ := newTestEngine(t, task.Builtin(), 0)

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `{{`, task.ErrMalformedPayload},
		{"missing type", `{"schema":1}`, task.ErrMalformedPayload},
		{"schema mismatch", `{"schema":2,"type":"montecarlo.pi"}`, task.ErrIncompatibleSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := model.TaskRequest{TaskID: "x-1", Payload: json.RawMessage(tt.payload)}
			_, err := eng.Submit(context.Background(), req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Submit error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubmitPublishesResults(t *testing.T) {
	exec := &delayExecutor{delay: 100 * time.Millisecond, output: json.RawMessage(`1`)}
	eng, _ := newTestEngine(t, exec, 0)

	rec, err := eng.Submit(context.Background(), makeRequest(t, 10))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ch, unsub := eng.Broker().Subscribe(rec.ID)
	defer unsub()

	var last model.TaskResult
	for res := range ch {
		last = res
	}
	if last.Status != model.StatusCompleted {
		t.Fatalf("last status = %q, want %q", last.Status, model.StatusCompleted)
	}
	if last.TaskID != rec.ID {
		t.Errorf("task id = %q, want %q", last.TaskID, rec.ID)
	}
	if string(last.Output) != "1" {
		t.Errorf("output = %s, want 1", last.Output)
	}
}

func TestShutdownCancelsRunningTasks(t *testing.T) {
	exec := &delayExecutor{delay: 10 * time.Second}
	eng, s := newTestEngine(t, exec, time.Minute)

	rec, err := eng.Submit(context.Background(), makeRequest(t, 10))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, s, rec.ID, model.StatusRunning, 5*time.Second)

	done := make(chan struct{})
	go func() {
		eng.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	got, err := s.GetTask(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, model.StatusFailed)
	}
}

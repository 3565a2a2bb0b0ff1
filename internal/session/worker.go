package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/task"
)

// worker runs one installed task in its own goroutine.
type worker struct {
	desc   task.Descriptor
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	running bool
	runs    int
	lastErr string
	output  []byte
}

// startWorker launches runner on d. The worker stops when parent is
// cancelled or stop is called.
func startWorker(parent context.Context, runner task.Runner, d task.Descriptor, logger *slog.Logger) *worker {
	ctx, cancel := context.WithCancel(parent)
	w := &worker{
		desc:    d,
		cancel:  cancel,
		done:    make(chan struct{}),
		running: true,
	}

	go func() {
		defer close(w.done)
		workersActive.Inc()
		defer workersActive.Dec()

		out, err := runner.Run(ctx, d.Envelope())

		w.mu.Lock()
		defer w.mu.Unlock()
		w.running = false
		switch {
		case errors.Is(err, context.Canceled):
			logger.Info("task worker cancelled", "type", d.Type, "signature", d.Signature)
		case err != nil:
			w.lastErr = err.Error()
			logger.Warn("task worker failed", "type", d.Type, "signature", d.Signature, "error", err)
		default:
			w.runs++
			w.output = out
			logger.Info("task worker finished", "type", d.Type, "signature", d.Signature)
		}
	}()

	return w
}

// stop cancels the worker and waits for it to exit.
func (w *worker) stop() {
	w.cancel()
	<-w.done
}

func (w *worker) state(clientID string) model.LocalState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return model.LocalState{
		ClientID:  clientID,
		Signature: w.desc.Signature,
		Running:   w.running,
		Runs:      w.runs,
		LastError: w.lastErr,
		Output:    w.output,
	}
}

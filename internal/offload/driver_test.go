package offload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/gridrelay/internal/task"
)

func TestDriverRunsCyclesUntilCancelled(t *testing.T) {
	job := &piJob{trials: 100, seed: 5}
	c := NewClient[task.PiInput, task.PiOutput](task.PiTask{}, nil, discardLogger())
	d := NewDriver[task.PiInput, task.PiOutput](c, job, 5*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var ids []string
	d.OnOutcome(func(out Outcome, err error) {
		if err != nil {
			t.Errorf("cycle error: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, out.TaskID)
		if len(ids) == 3 {
			cancel()
		}
	})

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(ids), 3)
	require.Equal(t, "montecarlo.pi-1", ids[0])
	require.Len(t, job.results(), len(ids))
}

func TestDriverSurvivesFailingCycles(t *testing.T) {
	job := &piJob{trials: 0, seed: 5}
	c := NewClient[task.PiInput, task.PiOutput](task.PiTask{}, nil, discardLogger())
	d := NewDriver[task.PiInput, task.PiOutput](c, job, time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failures := 0
	d.OnOutcome(func(_ Outcome, err error) {
		if err != nil {
			failures++
		}
		if failures == 2 {
			cancel()
		}
	})

	require.NoError(t, d.Run(ctx))
	require.Equal(t, 2, failures)
	require.Empty(t, job.results())
}

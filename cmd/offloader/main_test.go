package main

import (
	"math"
	"testing"

	"github.com/seantiz/gridrelay/internal/task"
)

func TestPiJobRunningMean(t *testing.T) {
	j := &piJob{trials: 10}

	if got := j.Input(); got.Trials != 10 {
		t.Fatalf("Input().Trials = %d, want 10", got.Trials)
	}
	if a, b := j.Seed(), j.Seed(); a == b {
		t.Fatalf("seeds repeat: %d, %d", a, b)
	}

	for _, est := range []float64{3.0, 3.2, 3.1} {
		j.Apply(task.PiOutput{Estimate: est})
	}
	if j.runs != 3 {
		t.Errorf("runs = %d, want 3", j.runs)
	}
	if math.Abs(j.mean-3.1) > 1e-9 {
		t.Errorf("mean = %v, want 3.1", j.mean)
	}
}

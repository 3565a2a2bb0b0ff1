package task

import (
	"context"
	"errors"
	"math/rand/v2"
)

// PiTaskType is the registered name of PiTask.
const PiTaskType = "montecarlo.pi"

// cancelCheckInterval is how many trials run between cancellation checks.
const cancelCheckInterval = 4096

// PiInput configures a Monte Carlo estimate of pi.
type PiInput struct {
	Trials int `json:"trials"`
}

// PiOutput is the result of a PiTask run.
type PiOutput struct {
	Trials   int     `json:"trials"`
	Inside   int     `json:"inside"`
	Estimate float64 `json:"estimate"`
}

// PiTask samples points in the unit square and counts those inside the
// quarter circle.
type PiTask struct{}

func (PiTask) Type() string { return PiTaskType }

func (PiTask) Execute(ctx context.Context, in PiInput, rng *rand.Rand) (PiOutput, error) {
	if in.Trials <= 0 {
		return PiOutput{}, errors.New("trials must be positive")
	}

	inside := 0
	for i := 0; i < in.Trials; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return PiOutput{}, err
			}
		}
		x, y := rng.Float64(), rng.Float64()
		if x*x+y*y <= 1 {
			inside++
		}
	}

	return PiOutput{
		Trials:   in.Trials,
		Inside:   inside,
		Estimate: 4 * float64(inside) / float64(in.Trials),
	}, nil
}

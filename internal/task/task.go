package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
)

var (
	// ErrUnknownType is returned when no task is registered under a type name.
	ErrUnknownType = errors.New("unknown task type")

	// ErrIncompatibleSchema is returned when a payload or descriptor uses a
	// wire schema this build cannot read.
	ErrIncompatibleSchema = errors.New("incompatible task schema")

	// ErrMalformedPayload is returned when a payload cannot be decoded.
	ErrMalformedPayload = errors.New("malformed task payload")
)

// Task is an executable unit of work. Execute must be deterministic for a
// given input and random source, must not touch state outside the call, and
// should return ctx.Err() promptly once ctx is cancelled.
type Task[I, O any] interface {
	Type() string
	Execute(ctx context.Context, in I, rng *rand.Rand) (O, error)
}

// ExecutionError reports that a task's own logic failed.
type ExecutionError struct {
	Type string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Type, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewRand returns the random source a task run with the given seed observes.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Run executes t with the random source for seed, wrapping any failure in an
// ExecutionError.
func Run[I, O any](ctx context.Context, t Task[I, O], in I, seed uint64) (O, error) {
	out, err := t.Execute(ctx, in, NewRand(seed))
	if err != nil {
		var zero O
		return zero, &ExecutionError{Type: t.Type(), Err: err}
	}
	return out, nil
}

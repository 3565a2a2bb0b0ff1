package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Runner executes envelopes of a single task type.
type Runner interface {
	Type() string
	Run(ctx context.Context, env Envelope) (json.RawMessage, error)
}

// Registry maps task type names to their runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Builtin returns a registry holding every task shipped with this module.
func Builtin() *Registry {
	r := NewRegistry()
	Register[PiInput, PiOutput](r, PiTask{})
	return r
}

// Register adds t to r. A later registration under the same type replaces
// the earlier one.
func Register[I, O any](r *Registry, t Task[I, O]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[t.Type()] = typedRunner[I, O]{task: t}
}

// Lookup returns the runner registered for taskType.
func (r *Registry) Lookup(taskType string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rn, ok := r.runners[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, taskType)
	}
	return rn, nil
}

// Types lists registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.runners))
	for name := range r.runners {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Execute decodes payload and runs it with the matching runner.
func (r *Registry) Execute(ctx context.Context, payload []byte) (json.RawMessage, error) {
	env, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	rn, err := r.Lookup(env.Type)
	if err != nil {
		return nil, err
	}
	return rn.Run(ctx, env)
}

type typedRunner[I, O any] struct {
	task Task[I, O]
}

func (tr typedRunner[I, O]) Type() string {
	return tr.task.Type()
}

func (tr typedRunner[I, O]) Run(ctx context.Context, env Envelope) (json.RawMessage, error) {
	var in I
	if err := decodeStrict(env.Input, &in); err != nil {
		return nil, err
	}
	out, err := Run(ctx, tr.task, in, env.Seed)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return data, nil
}

package api

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/task"
)

// sessionInfo is the service's view of one pull client session.
type sessionInfo struct {
	ID        string           `json:"session_id"`
	ClientID  string           `json:"client_id"`
	Binding   string           `json:"binding"`
	OpenedAt  time.Time        `json:"opened_at"`
	LastSeen  time.Time        `json:"last_seen"`
	State     model.LocalState `json:"state"`
	openedGen uint64
}

// sessionRegistry holds open sessions keyed by their opaque handle.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionInfo
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*sessionInfo)}
}

// open registers a session and returns its handle. gen is the publish
// generation current at open time.
func (r *sessionRegistry) open(clientID, binding string, gen uint64) string {
	now := time.Now().UTC()
	info := &sessionInfo{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Binding:   binding,
		OpenedAt:  now,
		LastSeen:  now,
		openedGen: gen,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[info.ID] = info
	return info.ID
}

// touch records state for the session and returns a copy of it.
func (r *sessionRegistry) touch(id string, state *model.LocalState) (sessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.sessions[id]
	if !ok {
		return sessionInfo{}, false
	}
	info.LastSeen = time.Now().UTC()
	if state != nil {
		info.State = *state
	}
	return *info, true
}

func (r *sessionRegistry) list() []sessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]sessionInfo, 0, len(r.sessions))
	for _, info := range r.sessions {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// publisher holds the descriptor currently offered to pull clients.
type publisher struct {
	mu         sync.RWMutex
	current    *task.Descriptor
	generation uint64

	// restartBefore makes sessions opened before this generation restart.
	restartBefore uint64
}

func (p *publisher) set(d task.Descriptor, restartClients bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = &d
	p.generation++
	if restartClients {
		p.restartBefore = p.generation
	}
}

func (p *publisher) get() (task.Descriptor, uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil {
		return task.Descriptor{}, p.generation, false
	}
	return *p.current, p.generation, true
}

// instruct decides what a session reporting state should do next.
func (p *publisher) instruct(info sessionInfo) model.Instruction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch {
	case info.openedGen < p.restartBefore:
		return model.Instruction{Action: model.ActionRestart, Message: "service redeployed its task"}
	case p.current != nil && info.State.Signature != p.current.Signature:
		return model.Instruction{Action: model.ActionReload, Message: "new task published"}
	default:
		return model.Instruction{Action: model.ActionContinue}
	}
}

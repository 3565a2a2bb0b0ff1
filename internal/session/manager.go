package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/rpc"
	"github.com/seantiz/gridrelay/internal/task"
)

// Defaults for the zero values of Config.
const (
	DefaultConnectWait  = 5 * time.Minute
	DefaultInteractWait = time.Minute
	DefaultCallTimeout  = 30 * time.Second
)

// ErrRestartRequired is returned by Run when the client must be relaunched
// rather than recover in place.
var ErrRestartRequired = errors.New("client restart required")

// Service is the part of the compute service a pull client talks to.
// *rpc.Client satisfies it.
type Service interface {
	OpenSession(ctx context.Context, clientID, binding string) (string, error)
	GetTask(ctx context.Context, sessionID string) (task.Descriptor, error)
	Interact(ctx context.Context, sessionID string, state model.LocalState) (model.Instruction, error)
}

// Config holds the identity and timing of a Manager.
type Config struct {
	ClientID string
	Binding  string

	// ConnectWait and InteractWait are slept before an iteration in the
	// respective mode. Zero selects the defaults.
	ConnectWait  time.Duration
	InteractWait time.Duration

	// CallTimeout bounds each call to the service. A call that runs out of
	// time fails like any other transport error. Zero selects the default.
	CallTimeout time.Duration
}

// Snapshot is a point-in-time view of a Manager.
type Snapshot struct {
	Mode      string
	SessionID string
	Signature string
	// Restarted is set while a detected service restart is pending.
	Restarted bool
	// RefusalEpisodes counts the distinct runs of refused connections seen.
	RefusalEpisodes int
	WorkerRunning   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithSleep replaces the wait between iterations. fn must return ctx.Err()
// once ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

// Manager owns one pull session and the worker running its task. Run must
// be called at most once; Snapshot may be called from any goroutine.
type Manager struct {
	svc      Service
	registry *task.Registry
	cfg      Config
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	// Loop state, owned by the Run goroutine.
	mode      string
	sessionID string
	active    *task.Descriptor
	worker    *worker
	restarted bool
	refusing  bool
	episodes  int
	connected bool

	mu         sync.Mutex
	snap       Snapshot
	snapWorker *worker
}

// NewManager creates a manager in CONNECT mode with no task installed.
func NewManager(svc Service, reg *task.Registry, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = DefaultConnectWait
	}
	if cfg.InteractWait <= 0 {
		cfg.InteractWait = DefaultInteractWait
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	m := &Manager{
		svc:      svc,
		registry: reg,
		cfg:      cfg,
		logger:   logger.With("client_id", cfg.ClientID),
		sleep:    sleepContext,
		mode:     model.ModeConnect,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.publish()
	sessionMode.WithLabelValues(model.ModeConnect).Set(1)
	sessionMode.WithLabelValues(model.ModeInteract).Set(0)
	return m
}

// Run drives the session until ctx is cancelled, returning nil, or until a
// restart is required, returning an error wrapping ErrRestartRequired. Any
// other failure sends the loop back to CONNECT. The worker is stopped and
// awaited before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	defer m.stopWorker()

	for {
		var err error
		switch m.mode {
		case model.ModeInteract:
			err = m.interact(ctx)
		default:
			err = m.connect(ctx)
		}
		if errors.Is(err, ErrRestartRequired) {
			restartsTotal.Inc()
			m.logger.Warn("restart required", "error", err)
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			m.logger.Warn("session iteration failed", "mode", m.mode, "error", err)
		}

		wait := m.cfg.ConnectWait
		if m.mode == model.ModeInteract {
			wait = m.cfg.InteractWait
		}
		if err := m.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// Snapshot returns the manager's current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	snap, w := m.snap, m.snapWorker
	m.mu.Unlock()

	if w != nil {
		snap.WorkerRunning = w.state("").Running
	}
	return snap
}

// connect opens a session and installs the published task if it changed.
func (m *Manager) connect(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	sid, err := m.svc.OpenSession(callCtx, m.cfg.ClientID, m.cfg.Binding)
	cancel()
	if err != nil {
		return m.callFailed("open session", err)
	}
	m.refusing = false

	callCtx, cancel = context.WithTimeout(ctx, m.cfg.CallTimeout)
	d, err := m.svc.GetTask(callCtx, sid)
	cancel()
	if err != nil {
		return m.callFailed("get task", err)
	}

	if m.restarted {
		m.restarted = false
		m.publish()
		return fmt.Errorf("%w: service restarted since the last session", ErrRestartRequired)
	}
	if err := d.Verify(); err != nil {
		return fmt.Errorf("%w: %w", ErrRestartRequired, err)
	}
	if err := d.CheckCompatible(m.registry, m.active); err != nil {
		return fmt.Errorf("%w: %w", ErrRestartRequired, err)
	}

	if m.active == nil || m.active.Signature != d.Signature {
		if err := m.install(ctx, d); err != nil {
			return fmt.Errorf("%w: %w", ErrRestartRequired, err)
		}
	}

	m.sessionID = sid
	m.connected = true
	m.logger.Info("session established", "session_id", sid, "signature", d.Signature)
	m.transition(model.ModeInteract)
	return nil
}

// interact reports local state and applies the returned instruction.
func (m *Manager) interact(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	ins, err := m.svc.Interact(callCtx, m.sessionID, m.localState())
	if err != nil {
		m.transition(model.ModeConnect)
		return m.callFailed("interact", err)
	}

	switch ins.Action {
	case model.ActionReload:
		m.logger.Info("service published a new task", "session_id", m.sessionID, "message", ins.Message)
		m.transition(model.ModeConnect)
	case model.ActionRestart:
		return fmt.Errorf("%w: service requested restart: %s", ErrRestartRequired, ins.Message)
	}
	return nil
}

// callFailed classifies a failed call. Once a session has been
// established, a refused connection marks the service as restarted, once
// per run of refusals. A service that was never reached has not restarted.
// Unreadable answers require a restart.
func (m *Manager) callFailed(op string, err error) error {
	switch {
	case rpc.IsConnectionRefused(err):
		if m.connected && !m.refusing {
			m.refusing = true
			m.restarted = true
			m.episodes++
			m.logger.Warn("connection refused, treating service as restarted", "op", op)
			m.publish()
		}
	case errors.Is(err, rpc.ErrProtocol):
		return fmt.Errorf("%w: %s: %w", ErrRestartRequired, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// install replaces the running worker with one running d. The old worker
// has exited before the new one starts.
func (m *Manager) install(ctx context.Context, d task.Descriptor) error {
	runner, err := m.registry.Lookup(d.Type)
	if err != nil {
		return err
	}

	if m.worker != nil {
		m.logger.Info("replacing task", "old_signature", m.worker.desc.Signature, "new_signature", d.Signature)
		m.stopWorker()
	}

	m.worker = startWorker(ctx, runner, d, m.logger)
	m.active = &d
	tasksInstalled.Inc()
	m.logger.Info("task installed", "type", d.Type, "version", d.Version, "signature", d.Signature)
	m.publish()
	return nil
}

func (m *Manager) stopWorker() {
	if m.worker == nil {
		return
	}
	m.worker.stop()
	m.worker = nil
	m.publish()
}

func (m *Manager) localState() model.LocalState {
	if m.worker == nil {
		return model.LocalState{ClientID: m.cfg.ClientID}
	}
	return m.worker.state(m.cfg.ClientID)
}

func (m *Manager) transition(to string) {
	if m.mode == to {
		return
	}
	transitionsTotal.WithLabelValues(m.mode, to).Inc()
	sessionMode.WithLabelValues(m.mode).Set(0)
	sessionMode.WithLabelValues(to).Set(1)
	m.mode = to
	if to == model.ModeConnect {
		m.sessionID = ""
	}
	m.publish()
}

// publish refreshes the snapshot from the loop state.
func (m *Manager) publish() {
	snap := Snapshot{
		Mode:            m.mode,
		SessionID:       m.sessionID,
		Restarted:       m.restarted,
		RefusalEpisodes: m.episodes,
	}
	if m.active != nil {
		snap.Signature = m.active.Signature
	}

	m.mu.Lock()
	m.snap = snap
	m.snapWorker = m.worker
	m.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

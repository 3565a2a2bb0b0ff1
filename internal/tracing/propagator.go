package tracing

import (
	"context"
	"net/http"
	"sync"

	"github.com/seantiz/gridrelay/internal/model"
)

// Propagator carries one trace across consecutive outgoing calls. The first
// call sends only the trace id; each later call names the span the service
// returned for the previous call as its parent.
type Propagator struct {
	mu       sync.Mutex
	traceID  string
	lastSpan string
}

// NewPropagator starts a new trace.
func NewPropagator() *Propagator {
	return &Propagator{traceID: model.NewID()}
}

// TraceID returns the id of the propagated trace.
func (p *Propagator) TraceID() string {
	return p.traceID
}

// Inject stamps the trace metadata onto outgoing request headers.
func (p *Propagator) Inject(h http.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h.Set(HeaderTraceID, p.traceID)
	if p.lastSpan != "" {
		h.Set(HeaderSpanID, model.NewID())
		h.Set(HeaderParentSpanID, p.lastSpan)
	}
}

// Observe records the span the service assigned to a completed call.
func (p *Propagator) Observe(h http.Header) {
	id := h.Get(HeaderSpanID)
	if id == "" {
		return
	}
	p.mu.Lock()
	p.lastSpan = id
	p.mu.Unlock()
}

type propagatorKey struct{}

// ContextWithPropagator binds p to ctx for outgoing calls made under it.
func ContextWithPropagator(ctx context.Context, p *Propagator) context.Context {
	return context.WithValue(ctx, propagatorKey{}, p)
}

// PropagatorFromContext returns the propagator bound to ctx, if any.
func PropagatorFromContext(ctx context.Context) (*Propagator, bool) {
	p, ok := ctx.Value(propagatorKey{}).(*Propagator)
	return p, ok
}

package tracing

import (
	"context"
	"sync"
)

// Metadata header names carried by every call.
const (
	HeaderTraceID      = "trace-id"
	HeaderSpanID       = "span-id"
	HeaderParentSpanID = "parent-span-id"
)

// SpanContext identifies the span of the call being handled.
type SpanContext struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

type spanKey struct{}

// callState is the per-call mutable part bound into the request context.
type callState struct {
	sc SpanContext

	mu  sync.Mutex
	err error
}

// FromContext returns the span context bound by the interceptor, if any.
func FromContext(ctx context.Context) (SpanContext, bool) {
	st, ok := ctx.Value(spanKey{}).(*callState)
	if !ok {
		return SpanContext{}, false
	}
	return st.sc, true
}

// RecordError attaches err to the current call's span. The last recorded
// error wins. It is a no-op outside an intercepted call.
func RecordError(ctx context.Context, err error) {
	st, ok := ctx.Value(spanKey{}).(*callState)
	if !ok || err == nil {
		return
	}
	st.mu.Lock()
	st.err = err
	st.mu.Unlock()
}

func withCallState(ctx context.Context, st *callState) context.Context {
	return context.WithValue(ctx, spanKey{}, st)
}

func (st *callState) recorded() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

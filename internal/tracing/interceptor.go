package tracing

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/gridrelay/internal/model"
)

// Interceptor wraps inbound calls and produces one span per call.
// It is safe for concurrent use.
type Interceptor struct {
	exporter  Exporter
	logger    *slog.Logger
	now       func() time.Time
	operation func(r *http.Request) string

	active sync.Map // span id → model.Span as of call entry
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithClock overrides the time source used for span timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) { i.now = now }
}

// WithOperationNamer overrides how a request maps to an operation name.
// The default is the request path without its leading slash, which for the
// compute service is the fully qualified method name.
func WithOperationNamer(fn func(r *http.Request) string) Option {
	return func(i *Interceptor) { i.operation = fn }
}

// NewInterceptor creates an interceptor exporting finished spans to exp.
func NewInterceptor(exp Exporter, logger *slog.Logger, opts ...Option) *Interceptor {
	i := &Interceptor{
		exporter:  exp,
		logger:    logger,
		now:       time.Now,
		operation: defaultOperation,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func defaultOperation(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, "/")
}

// Middleware returns the HTTP middleware form of the interceptor.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(HeaderTraceID)
		if traceID == "" {
			traceID = model.NewID()
		}
		sc := SpanContext{
			TraceID:      traceID,
			SpanID:       model.NewID(),
			ParentSpanID: r.Header.Get(HeaderParentSpanID),
		}

		span := &model.Span{
			TraceID:       sc.TraceID,
			SpanID:        sc.SpanID,
			ParentSpanID:  sc.ParentSpanID,
			OperationName: i.operation(r),
			StartTime:     i.now(),
		}
		i.active.Store(sc.SpanID, *span)

		st := &callState{sc: sc}
		w.Header().Set(HeaderTraceID, sc.TraceID)
		w.Header().Set(HeaderSpanID, sc.SpanID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			rec := recover()
			i.finish(span, ww.Status(), st.recorded(), rec)
			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(ww, r.WithContext(withCallState(r.Context(), st)))
	})
}

// finish completes span and exports it. It runs exactly once per call.
func (i *Interceptor) finish(span *model.Span, status int, callErr error, panicked any) {
	i.active.Delete(span.SpanID)
	span.Finish(i.now())

	if status == 0 {
		status = http.StatusOK
	}

	switch {
	case panicked != nil:
		span.Status = model.SpanStatusError
		span.ErrorMessage = fmt.Sprintf("panic: %v", panicked)
	case callErr != nil:
		span.Status = model.SpanStatusError
		span.ErrorMessage = callErr.Error()
	case status >= http.StatusBadRequest:
		span.Status = model.SpanStatusError
		span.ErrorMessage = http.StatusText(status)
	default:
		span.Status = model.SpanStatusOK
	}

	spanDuration.WithLabelValues(span.OperationName, span.Status).Observe(span.Duration().Seconds())
	i.exporter.Export(*span)
}

// Active returns a snapshot of calls currently in flight.
func (i *Interceptor) Active() []model.Span {
	var spans []model.Span
	i.active.Range(func(_, v any) bool {
		spans = append(spans, v.(model.Span))
		return true
	})
	return spans
}

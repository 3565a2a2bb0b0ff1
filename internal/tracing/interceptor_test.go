package tracing

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/gridrelay/internal/model"
)

// spanRecorder collects exported spans.
type spanRecorder struct {
	mu    sync.Mutex
	spans []model.Span
}

func (r *spanRecorder) Export(span model.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, span)
}

func (r *spanRecorder) all() []model.Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Span(nil), r.spans...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInterceptorGeneratesTraceID(t *testing.T) {
	exp := &spanRecorder{}
	ic := NewInterceptor(exp, discardLogger())

	var seen SpanContext
	h := ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, ok := FromContext(r.Context())
		require.True(t, ok, "span context missing from handler context")
		seen = sc
		require.Len(t, ic.Active(), 1)
	}))

	req := httptest.NewRequest(http.MethodPost, "/compute.v1.ComputeService/SubmitTask", nil)
	rec := serve(t, h, req)

	spans := exp.all()
	require.Len(t, spans, 1)
	span := spans[0]
	require.NotEmpty(t, span.TraceID)
	require.Len(t, span.TraceID, 26)
	require.Equal(t, seen.TraceID, span.TraceID)
	require.Equal(t, seen.SpanID, span.SpanID)
	require.Empty(t, span.ParentSpanID)
	require.Equal(t, "compute.v1.ComputeService/SubmitTask", span.OperationName)
	require.Equal(t, model.SpanStatusOK, span.Status)
	require.NotNil(t, span.EndTime)
	require.False(t, span.EndTime.Before(span.StartTime))
	require.Equal(t, span.TraceID, rec.Header().Get(HeaderTraceID))
	require.Equal(t, span.SpanID, rec.Header().Get(HeaderSpanID))
	require.Empty(t, ic.Active())
}

func TestInterceptorPropagatesIncomingMetadata(t *testing.T) {
	exp := &spanRecorder{}
	ic := NewInterceptor(exp, discardLogger())
	h := ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/compute.v1.ComputeService/GetTask", nil)
	req.Header.Set(HeaderTraceID, "trace-abc")
	req.Header.Set(HeaderSpanID, "client-span")
	req.Header.Set(HeaderParentSpanID, "parent-xyz")
	serve(t, h, req)

	spans := exp.all()
	require.Len(t, spans, 1)
	require.Equal(t, "trace-abc", spans[0].TraceID)
	require.Equal(t, "parent-xyz", spans[0].ParentSpanID)
	require.NotEqual(t, "client-span", spans[0].SpanID, "span id must be fresh per call")
}

func TestInterceptorErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{
			name: "status code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantMsg: http.StatusText(http.StatusServiceUnavailable),
		},
		{
			name: "recorded error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				RecordError(r.Context(), errors.New("task not found"))
				w.WriteHeader(http.StatusNotFound)
			},
			wantMsg: "task not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := &spanRecorder{}
			ic := NewInterceptor(exp, discardLogger())
			serve(t, ic.Middleware(tt.handler), httptest.NewRequest(http.MethodPost, "/x", nil))

			spans := exp.all()
			require.Len(t, spans, 1)
			require.Equal(t, model.SpanStatusError, spans[0].Status)
			require.Equal(t, tt.wantMsg, spans[0].ErrorMessage)
		})
	}
}

func TestInterceptorPanicExportsOnce(t *testing.T) {
	exp := &spanRecorder{}
	ic := NewInterceptor(exp, discardLogger())
	h := middleware.Recoverer(ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := serve(t, h, httptest.NewRequest(http.MethodPost, "/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	spans := exp.all()
	require.Len(t, spans, 1)
	require.Equal(t, model.SpanStatusError, spans[0].Status)
	require.Equal(t, "panic: boom", spans[0].ErrorMessage)
	require.Empty(t, ic.Active())
}

func TestInterceptorConcurrentCallsOneSpanEach(t *testing.T) {
	exp := &spanRecorder{}
	ic := NewInterceptor(exp, discardLogger())
	h := ic.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	const calls = 200
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/op/%d", i), nil)
			serve(t, h, req)
		}(i)
	}
	wg.Wait()

	spans := exp.all()
	require.Len(t, spans, calls)
	ids := make(map[string]bool, calls)
	for _, s := range spans {
		require.False(t, ids[s.SpanID], "span %s exported twice", s.SpanID)
		ids[s.SpanID] = true
		require.False(t, s.EndTime.Before(s.StartTime))
	}
	require.Empty(t, ic.Active())
}

func TestRecordErrorOutsideCallIsNoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	RecordError(req.Context(), errors.New("ignored"))
	_, ok := FromContext(req.Context())
	require.False(t, ok)
}

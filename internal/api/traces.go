package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/tracing"
)

// traceResponse is the JSON response for GET /v1/traces/{traceId}.
type traceResponse struct {
	TraceID string           `json:"trace_id"`
	Spans   []tracing.Record `json:"spans"`
}

// handleGetTrace returns the exported spans of a trace in start order. Spans
// only appear here once the batch exporter has flushed them to the store.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceId")

	spans, err := s.store.GetTrace(r.Context(), traceID)
	if err != nil {
		s.logger.Error("get trace", "trace_id", traceID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get trace")
		return
	}
	if len(spans) == 0 {
		s.writeError(w, http.StatusNotFound, "trace not found")
		return
	}

	s.writeJSON(w, http.StatusOK, traceResponse{
		TraceID: traceID,
		Spans:   records(spans),
	})
}

func (s *Server) handleActiveSpans(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, records(s.interceptor.Active()))
}

func records(spans []model.Span) []tracing.Record {
	out := make([]tracing.Record, len(spans))
	for i, sp := range spans {
		out[i] = tracing.NewRecord(sp)
	}
	return out
}

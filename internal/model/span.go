package model

import "time"

// Span status constants.
const (
	SpanStatusOK    = "OK"
	SpanStatusError = "ERROR"
)

// Span is the timed record of one RPC invocation.
type Span struct {
	TraceID       string     `json:"trace_id"`
	SpanID        string     `json:"span_id"`
	ParentSpanID  string     `json:"parent_span_id,omitempty"`
	OperationName string     `json:"operation"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"error,omitempty"`
}

// Duration returns the span's elapsed time, or zero if it has not finished.
func (s *Span) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Finish stamps the end time. An end time earlier than the start (clock
// stepped backwards) is clamped to the start.
func (s *Span) Finish(end time.Time) {
	if end.Before(s.StartTime) {
		end = s.StartTime
	}
	s.EndTime = &end
}

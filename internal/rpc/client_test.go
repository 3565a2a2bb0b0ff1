package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/tracing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL)
}

func TestSubmitTask(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/compute.v1.ComputeService/SubmitTask", r.URL.Path)

		var req SubmitTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(SubmitTaskResponse{AcceptedTaskID: "srv-" + req.TaskID})
	})

	id, err := c.SubmitTask(context.Background(), model.TaskRequest{
		TaskID:  "montecarlo.pi-1",
		Payload: json.RawMessage(`{"schema":1}`),
	})
	require.NoError(t, err)
	require.Equal(t, "srv-montecarlo.pi-1", id)
}

func TestCallPropagatesTrace(t *testing.T) {
	var seen []http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Clone())
		w.Header().Set(tracing.HeaderSpanID, fmt.Sprintf("server-span-%d", len(seen)))
		json.NewEncoder(w).Encode(OpenSessionResponse{SessionID: "s-1"})
	})

	prop := tracing.NewPropagator()
	ctx := tracing.ContextWithPropagator(context.Background(), prop)
	for range 2 {
		_, err := c.OpenSession(ctx, "client", "compute")
		require.NoError(t, err)
	}

	require.Len(t, seen, 2)
	require.Equal(t, prop.TraceID(), seen[0].Get(tracing.HeaderTraceID))
	require.Empty(t, seen[0].Get(tracing.HeaderParentSpanID))
	require.Equal(t, prop.TraceID(), seen[1].Get(tracing.HeaderTraceID))
	require.Equal(t, "server-span-1", seen[1].Get(tracing.HeaderParentSpanID))
	require.NotEmpty(t, seen[1].Get(tracing.HeaderSpanID))
}

func TestCallWithoutPropagatorSendsNoTrace(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get(tracing.HeaderTraceID))
		json.NewEncoder(w).Encode(OpenSessionResponse{SessionID: "s-1"})
	})

	_, err := c.OpenSession(context.Background(), "client", "compute")
	require.NoError(t, err)
}

func TestCallErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "status error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(ErrorBody{Code: CodeNotFound, Msg: "session not found"})
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				require.Equal(t, http.StatusNotFound, se.HTTPStatus)
				require.Equal(t, "session not found", se.Msg)
				require.True(t, HasCode(err, CodeNotFound))
				require.False(t, IsTransient(err))
			},
		},
		{
			name: "error without body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrProtocol)
			},
		},
		{
			name: "gateway unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream down", http.StatusServiceUnavailable)
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrUnavailable)
			},
		},
		{
			name: "corrupted body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"session_id":`)
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrProtocol)
			},
		},
		{
			name: "empty session id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{}`)
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrProtocol)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.OpenSession(context.Background(), "client", "compute")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.Listener.Addr().String()
	ts.Close()

	c := NewClient(addr)
	_, err := c.OpenSession(context.Background(), "client", "compute")
	require.ErrorIs(t, err, ErrUnavailable)
	require.True(t, IsConnectionRefused(err), "err = %v", err)
}

func TestDeadlineIsUnavailable(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.GetTask(ctx, "s-1")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, IsConnectionRefused(err))
}

func TestInteractRejectsUnknownAction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.Instruction{Action: "explode"})
	})

	_, err := c.Interact(context.Background(), "s-1", model.LocalState{})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestInteract(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req InteractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "s-1", req.SessionID)
		require.Equal(t, "sig", req.State.Signature)
		json.NewEncoder(w).Encode(model.Instruction{Action: model.ActionReload, Message: "new task"})
	})

	ins, err := c.Interact(context.Background(), "s-1", model.LocalState{Signature: "sig"})
	require.NoError(t, err)
	require.Equal(t, model.Instruction{Action: model.ActionReload, Message: "new task"}, ins)
}

func sseHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body)
	}
}

func collect(t *testing.T, s ResultStream) ([]model.TaskResult, error) {
	t.Helper()
	defer s.Close()
	var out []model.TaskResult
	for {
		res, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
}

func TestStreamResults(t *testing.T) {
	body := ": keep-alive\n\n" +
		"data: {\"task_id\":\"t1\",\"status\":\"PENDING\"}\n\n" +
		"event: update\n" +
		"data: {\"task_id\":\"t1\",\n" +
		"data: \"status\":\"RUNNING\"}\n\n" +
		"data:{\"task_id\":\"t1\",\"status\":\"COMPLETED\",\"output\":{\"n\":1}}\n\n"
	c := newTestClient(t, sseHandler(body))

	stream, err := c.StreamResults(context.Background(), "t1")
	require.NoError(t, err)
	got, err := collect(t, stream)
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.Equal(t, model.StatusPending, got[0].Status)
	require.Equal(t, model.StatusRunning, got[1].Status)
	require.Equal(t, model.StatusCompleted, got[2].Status)
	require.JSONEq(t, `{"n":1}`, string(got[2].Output))
}

func TestStreamResultsProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", "data: {nope\n\n"},
		{"missing status", "data: {\"task_id\":\"t1\"}\n\n"},
		{"truncated event", "data: {\"task_id\":\"t1\",\"status\":\"RUNNING\"}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, sseHandler(tt.body))
			stream, err := c.StreamResults(context.Background(), "t1")
			require.NoError(t, err)
			_, err = collect(t, stream)
			require.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestStreamResultsWrongContentType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{}`)
	})

	_, err := c.StreamResults(context.Background(), "t1")
	require.ErrorIs(t, err, ErrProtocol)
}

func TestNewClientAddsScheme(t *testing.T) {
	require.Equal(t, "http://localhost:8080", NewClient("localhost:8080").baseURL)
	require.Equal(t, "https://grid.example", NewClient("https://grid.example/").baseURL)
	require.True(t, strings.HasPrefix(NewClient("10.0.0.1:1").baseURL, "http://"))
}

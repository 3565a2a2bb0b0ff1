package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/rpc"
	"github.com/seantiz/gridrelay/internal/store"
	"github.com/seantiz/gridrelay/internal/task"
	"github.com/seantiz/gridrelay/internal/tracing"
)

const maxBodySize = 1 << 20 // 1 MB

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req rpc.SubmitTaskRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.TaskID == "" {
		s.writeRPCError(w, r, http.StatusBadRequest, rpc.CodeInvalidArgument, "task_id is required", nil)
		return
	}

	rec, err := s.engine.Submit(r.Context(), model.TaskRequest{
		TaskID:         req.TaskID,
		Payload:        req.Payload,
		SubmissionTime: req.SubmissionTime,
	})
	switch {
	case errors.Is(err, task.ErrMalformedPayload), errors.Is(err, task.ErrIncompatibleSchema):
		s.writeRPCError(w, r, http.StatusBadRequest, rpc.CodeInvalidArgument, err.Error(), err)
		return
	case err != nil:
		s.logger.Error("submit task", "task_id", req.TaskID, "error", err)
		s.writeRPCError(w, r, http.StatusInternalServerError, rpc.CodeInternal, "failed to submit task", err)
		return
	}

	s.logger.Debug("task accepted", "task_id", req.TaskID, "accepted_task_id", rec.ID, "type", rec.Type)
	s.writeJSON(w, http.StatusOK, rpc.SubmitTaskResponse{AcceptedTaskID: rec.ID})
}

func (s *Server) handleStreamResults(w http.ResponseWriter, r *http.Request) {
	var req rpc.StreamResultsRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	rec, err := s.store.GetTask(r.Context(), req.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeRPCError(w, r, http.StatusNotFound, rpc.CodeNotFound, "task not found", err)
		return
	}
	if err != nil {
		s.logger.Error("get task for stream", "task_id", req.TaskID, "error", err)
		s.writeRPCError(w, r, http.StatusInternalServerError, rpc.CodeInternal, "failed to get task", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}
	w.WriteHeader(http.StatusOK)

	resultStreamsActive.Inc()
	defer resultStreamsActive.Dec()

	send := func(res model.TaskResult) bool {
		if err := writeSSEResult(w, res); err != nil {
			return false
		}
		if err := rc.Flush(); err != nil {
			s.logger.Debug("flush result stream", "error", err)
		}
		return true
	}

	if !send(rec.Result()) || model.IsTerminal(rec.Status) {
		return
	}

	// Results published before this subscription are lost, but then the
	// topic is closed by the time we look and the store holds the outcome.
	ch, unsub := s.engine.Broker().Subscribe(req.TaskID)
	defer unsub()

	for {
		select {
		case res, ok := <-ch:
			if !ok {
				// The broker closed before this subscriber saw the terminal
				// result; the store has it.
				final, err := s.store.GetTask(r.Context(), req.TaskID)
				if err != nil {
					tracing.RecordError(r.Context(), err)
					return
				}
				send(final.Result())
				return
			}
			if !send(res) || model.IsTerminal(res.Status) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req rpc.OpenSessionRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		s.writeRPCError(w, r, http.StatusBadRequest, rpc.CodeInvalidArgument, "client_id is required", nil)
		return
	}

	_, gen, _ := s.publisher.get()
	id := s.sessions.open(req.ClientID, req.Binding, gen)
	sessionsOpened.Inc()

	s.logger.Info("session opened", "session_id", id, "client_id", req.ClientID, "binding", req.Binding)
	s.writeJSON(w, http.StatusOK, rpc.OpenSessionResponse{SessionID: id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	var req rpc.GetTaskRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if _, ok := s.sessions.touch(req.SessionID, nil); !ok {
		s.writeRPCError(w, r, http.StatusNotFound, rpc.CodeNotFound, "session not found", nil)
		return
	}

	d, _, ok := s.publisher.get()
	if !ok {
		s.writeRPCError(w, r, http.StatusNotFound, rpc.CodeNotFound, "no task published", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	var req rpc.InteractRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	info, ok := s.sessions.touch(req.SessionID, &req.State)
	if !ok {
		s.writeRPCError(w, r, http.StatusNotFound, rpc.CodeNotFound, "session not found", nil)
		return
	}

	ins := s.publisher.instruct(info)
	instructionsTotal.WithLabelValues(ins.Action).Inc()
	s.logger.Debug("interact",
		"session_id", req.SessionID,
		"client_id", info.ClientID,
		"signature", req.State.Signature,
		"runs", req.State.Runs,
		"action", ins.Action,
	)
	s.writeJSON(w, http.StatusOK, ins)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req rpc.PublishRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	signed, err := s.Publish(req.Descriptor, req.RestartClients)
	if err != nil {
		s.writeRPCError(w, r, http.StatusBadRequest, rpc.CodeInvalidArgument, err.Error(), err)
		return
	}
	s.writeJSON(w, http.StatusOK, signed)
}

// Publish signs d and offers it to pull clients. The task type must be
// registered with this service.
func (s *Server) Publish(d task.Descriptor, restartClients bool) (task.Descriptor, error) {
	if _, err := s.registry.Lookup(d.Type); err != nil {
		return task.Descriptor{}, err
	}
	signed, err := d.Sign()
	if err != nil {
		return task.Descriptor{}, fmt.Errorf("sign descriptor: %w", err)
	}
	s.publisher.set(signed, restartClients)
	publishesTotal.WithLabelValues(strconv.FormatBool(restartClients)).Inc()

	s.logger.Info("task published",
		"type", signed.Type,
		"version", signed.Version,
		"signature", signed.Signature,
		"restart_clients", restartClients,
	)
	return signed, nil
}

// decodeRequest reads a JSON request body into v, writing the error
// response itself when the body is unusable.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeRPCError(w, r, http.StatusBadRequest, rpc.CodeInvalidArgument, "invalid JSON body", err)
		return false
	}
	return true
}

// writeRPCError writes an error body and records cause on the call's span.
func (s *Server) writeRPCError(w http.ResponseWriter, r *http.Request, status int, code, msg string, cause error) {
	if cause == nil {
		cause = errors.New(msg)
	}
	tracing.RecordError(r.Context(), cause)
	s.writeJSON(w, status, rpc.ErrorBody{Code: code, Msg: msg})
}

// writeSSEResult writes res as one SSE data event.
func writeSSEResult(w http.ResponseWriter, res model.TaskResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

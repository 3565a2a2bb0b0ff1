package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/task"
	"github.com/seantiz/gridrelay/internal/tracing"
)

const (
	contentTypeJSON = "application/json"
	maxResponseSize = 1 << 20 // 1 MB
)

// Client calls a compute service. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Calls are bounded by
// their context; a client-level timeout would also cut result streams short.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a client for the service at addr. A bare host:port is
// treated as an http URL.
func NewClient(addr string, opts ...Option) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	c := &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitTask sends req and returns the id the service accepted it under.
func (c *Client) SubmitTask(ctx context.Context, req model.TaskRequest) (string, error) {
	var resp SubmitTaskResponse
	err := c.call(ctx, MethodSubmitTask, SubmitTaskRequest{
		TaskID:         req.TaskID,
		Payload:        req.Payload,
		SubmissionTime: req.SubmissionTime,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AcceptedTaskID == "" {
		return "", fmt.Errorf("%w: empty accepted task id", ErrProtocol)
	}
	return resp.AcceptedTaskID, nil
}

// StreamResults opens the result stream of an accepted task. The stream
// ends after the terminal result. Closing it or cancelling ctx releases the
// connection.
func (c *Client) StreamResults(ctx context.Context, taskID string) (ResultStream, error) {
	resp, err := c.post(ctx, MethodStreamResults, StreamResultsRequest{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: stream content type %q", ErrProtocol, ct)
	}
	return newEventStream(resp.Body), nil
}

// OpenSession registers clientID with the service under binding and
// returns the opaque session handle.
func (c *Client) OpenSession(ctx context.Context, clientID, binding string) (string, error) {
	var resp OpenSessionResponse
	if err := c.call(ctx, MethodOpenSession, OpenSessionRequest{ClientID: clientID, Binding: binding}, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("%w: empty session id", ErrProtocol)
	}
	return resp.SessionID, nil
}

// GetTask fetches the descriptor currently published to the session.
func (c *Client) GetTask(ctx context.Context, sessionID string) (task.Descriptor, error) {
	var d task.Descriptor
	if err := c.call(ctx, MethodGetTask, GetTaskRequest{SessionID: sessionID}, &d); err != nil {
		return task.Descriptor{}, err
	}
	return d, nil
}

// Interact reports the local state and returns the service's instruction.
func (c *Client) Interact(ctx context.Context, sessionID string, state model.LocalState) (model.Instruction, error) {
	var ins model.Instruction
	if err := c.call(ctx, MethodInteract, InteractRequest{SessionID: sessionID, State: state}, &ins); err != nil {
		return model.Instruction{}, err
	}
	switch ins.Action {
	case model.ActionContinue, model.ActionReload, model.ActionRestart:
		return ins, nil
	default:
		return model.Instruction{}, fmt.Errorf("%w: unknown action %q", ErrProtocol, ins.Action)
	}
}

// Publish installs d as the service's published task and returns it signed.
func (c *Client) Publish(ctx context.Context, d task.Descriptor, restartClients bool) (task.Descriptor, error) {
	var signed task.Descriptor
	if err := c.call(ctx, MethodPublish, PublishRequest{Descriptor: d, RestartClients: restartClients}, &signed); err != nil {
		return task.Descriptor{}, err
	}
	return signed, nil
}

// call performs a unary method call, decoding the response into out.
func (c *Client) call(ctx context.Context, method string, in, out any) error {
	resp, err := c.post(ctx, method, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", method, ctxErr)
		}
		return fmt.Errorf("%w: decode %s response: %v", ErrProtocol, method, err)
	}
	return nil
}

// post sends the request and returns a 200 response with its body open.
// Any other outcome is returned as a classified error.
func (c *Client) post(ctx context.Context, method string, in any) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+MethodPath(method), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	prop, traced := tracing.PropagatorFromContext(ctx)
	if traced {
		prop.Inject(req.Header)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	callDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		callErrors.WithLabelValues(method, "unavailable").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, method, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, method, err)
	}
	if traced {
		prop.Observe(resp.Header)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		callErrors.WithLabelValues(method, "status").Inc()
		return nil, decodeStatusError(resp)
	}
	return resp, nil
}

func decodeStatusError(resp *http.Response) error {
	var body ErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil || body.Code == "" {
		if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
			return fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
		}
		return fmt.Errorf("%w: HTTP %d without error body", ErrProtocol, resp.StatusCode)
	}
	return &StatusError{HTTPStatus: resp.StatusCode, Code: body.Code, Msg: body.Msg}
}

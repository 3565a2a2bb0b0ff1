package rpc

import (
	"encoding/json"
	"time"

	"github.com/seantiz/gridrelay/internal/model"
	"github.com/seantiz/gridrelay/internal/task"
)

// Service is the fully qualified name of the compute service.
const Service = "compute.v1.ComputeService"

// Method names of the compute service.
const (
	MethodSubmitTask    = "SubmitTask"
	MethodStreamResults = "StreamResults"
	MethodOpenSession   = "OpenSession"
	MethodGetTask       = "GetTask"
	MethodInteract      = "Interact"
	MethodPublish       = "Publish"
)

// MethodPath returns the HTTP path serving method.
func MethodPath(method string) string {
	return "/" + Service + "/" + method
}

// Error codes carried in ErrorBody.
const (
	CodeInvalidArgument    = "invalid_argument"
	CodeNotFound           = "not_found"
	CodeFailedPrecondition = "failed_precondition"
	CodeInternal           = "internal"
)

// ErrorBody is the JSON body of every non-200 response.
type ErrorBody struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type SubmitTaskRequest struct {
	TaskID         string          `json:"task_id"`
	Payload        json.RawMessage `json:"payload"`
	SubmissionTime time.Time       `json:"submission_time"`
}

type SubmitTaskResponse struct {
	AcceptedTaskID string `json:"accepted_task_id"`
}

type StreamResultsRequest struct {
	TaskID string `json:"task_id"`
}

type OpenSessionRequest struct {
	ClientID string `json:"client_id"`
	Binding  string `json:"binding"`
}

type OpenSessionResponse struct {
	SessionID string `json:"session_id"`
}

type GetTaskRequest struct {
	SessionID string `json:"session_id"`
}

type InteractRequest struct {
	SessionID string           `json:"session_id"`
	State     model.LocalState `json:"state"`
}

// PublishRequest installs a new task descriptor. With RestartClients set,
// sessions opened before the publish are told to restart on their next
// interaction instead of reloading in place.
type PublishRequest struct {
	Descriptor     task.Descriptor `json:"descriptor"`
	RestartClients bool            `json:"restart_clients"`
}

package model

// Session mode constants.
const (
	ModeConnect  = "CONNECT"
	ModeInteract = "INTERACT"
)

// Instruction actions returned by the service during interaction.
const (
	ActionContinue = "continue"
	ActionReload   = "reload"
	ActionRestart  = "restart"
)

// Instruction is the service's reply to an interact call.
type Instruction struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
}

// LocalState is what a pull client reports about its running task.
type LocalState struct {
	ClientID  string `json:"client_id"`
	Signature string `json:"signature"`
	Running   bool   `json:"running"`
	Runs      int    `json:"runs"`
	LastError string `json:"last_error,omitempty"`
	// Output holds the most recent completed output, if any.
	Output []byte `json:"output,omitempty"`
}

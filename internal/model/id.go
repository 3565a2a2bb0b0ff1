package model

import (
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as an entity identifier.
// ULIDs carry 128 bits, which is also the width of a trace id.
func NewID() string {
	return ulid.Make().String()
}

// RequestIDs hands out submission ids of the form "<task type>-<counter>".
// The counter is monotonic for the lifetime of the generator. It is safe for
// concurrent use.
type RequestIDs struct {
	next atomic.Uint64
}

// Next returns the next request id for the given task type.
func (g *RequestIDs) Next(taskType string) string {
	return fmt.Sprintf("%s-%d", taskType, g.next.Add(1))
}

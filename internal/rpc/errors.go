package rpc

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrUnavailable means the service could not be reached or did not answer
	// in time.
	ErrUnavailable = errors.New("compute service unavailable")

	// ErrProtocol means the service answered with something this client
	// cannot read.
	ErrProtocol = errors.New("compute service protocol error")
)

// StatusError is an error reported by the service itself.
type StatusError struct {
	HTTPStatus int
	Code       string
	Msg        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Msg)
}

// IsConnectionRefused reports whether err stems from a refused connection,
// the usual sign of a service that is down or restarting.
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// IsTransient reports whether err is a transport failure worth retrying
// later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// HasCode reports whether err is a StatusError with the given code.
func HasCode(err error, code string) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

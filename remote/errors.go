package remote

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the remote reports the addressed resource
// does not exist. It is a domain failure and is never retried.
var ErrNotFound = errors.New("remote: not found")

// TransportError is a transient I/O fault: the request never completed,
// or the server answered with a status that indicates a temporary
// condition (429, 5xx). The retry executor retries these.
type TransportError struct {
	Status int // 0 when the request never reached the server
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote: transport failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("remote: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransientFault marks TransportError as retryable for netretry.
func (e *TransportError) TransientFault() bool { return true }

// ValidationError is a domain failure: the remote understood the request
// and rejected it. It is surfaced to the caller without retrying.
type ValidationError struct {
	Status  int
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote: %s: %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("remote: request rejected: %s (status %d)", e.Message, e.Status)
}

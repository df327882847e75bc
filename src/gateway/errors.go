package gateway

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrZombie means a heartbeat went unacknowledged for a whole interval.
	ErrZombie = errors.New("gateway: heartbeat not acknowledged")
	// ErrProtocol covers handshake violations such as a missing HELLO.
	ErrProtocol = errors.New("gateway: protocol error")
	ErrNotReady = errors.New("gateway: session not ready")
	ErrClosed   = errors.New("gateway: connection closed")
)

// FatalError is returned by Run for close codes that retrying cannot fix.
type FatalError struct {
	Code   int
	Name   string
	Reason string
}

func (e *FatalError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gateway closed with %d (%s): %s", e.Code, e.Name, e.Reason)
	}
	return fmt.Sprintf("gateway closed with %d (%s)", e.Code, e.Name)
}

// reconnectError tells Run that the connection ended in a way a new
// connection can recover from. Whether that connection resumes is decided by
// the session state, not by the error.
type reconnectError struct {
	// delay overrides the backoff when non-zero.
	delay time.Duration
	cause error
}

func (e *reconnectError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("reconnect: %v", e.cause)
	}
	return "reconnect"
}

func (e *reconnectError) Unwrap() error { return e.cause }

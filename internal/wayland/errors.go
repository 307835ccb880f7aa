package wayland

import (
	"errors"
	"fmt"
)

// ErrWouldBlock reports that a non-blocking read found no data. Readiness is
// a hint, so callers treat it as "try again later".
var ErrWouldBlock = errors.New("wayland: would block")

// ConnectError means no compositor endpoint could be reached.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("wayland: connect: %v", e.Err)
	}
	return fmt.Sprintf("wayland: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError is an I/O failure on the compositor socket other than
// would-block. It is fatal to the connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("wayland: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a wl_display.error event sent by the compositor. The
// compositor disconnects the client after sending it.
type ProtocolError struct {
	ObjectID  uint32
	Interface string
	Code      uint32
	Message   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wayland: protocol error on %s@%d (code %d): %s",
		e.Interface, e.ObjectID, e.Code, e.Message)
}

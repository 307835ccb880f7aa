package selection

import (
	"errors"
	"fmt"
)

// ErrOutputClosed means the consumer stopped listening. The watcher treats it
// as a request to shut down.
var ErrOutputClosed = errors.New("selection: output closed")

// ErrDeviceFinished means the compositor invalidated the data-control device,
// usually because its seat went away.
var ErrDeviceFinished = errors.New("selection: data-control device finished")

// MissingCapabilityError means a global the watcher needs was not advertised
// by the compositor.
type MissingCapabilityError struct {
	Interface string
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("selection: compositor does not advertise %s", e.Interface)
}

// PipeReadError is a failure reading selection content from the compositor.
// It spoils only the current selection.
type PipeReadError struct {
	MIME string
	Err  error
}

func (e *PipeReadError) Error() string {
	return fmt.Sprintf("selection: read %s: %v", e.MIME, e.Err)
}

func (e *PipeReadError) Unwrap() error { return e.Err }

// DecodeError rejects selection bytes that are not plain text.
type DecodeError struct {
	// NUL is set when the bytes contain a NUL and were treated as binary
	// content rather than malformed text.
	NUL bool
	// Offset is the first offending byte.
	Offset int
}

func (e *DecodeError) Error() string {
	if e.NUL {
		return fmt.Sprintf("selection: NUL byte at offset %d", e.Offset)
	}
	return fmt.Sprintf("selection: invalid UTF-8 at offset %d", e.Offset)
}

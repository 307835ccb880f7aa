package wayland

import (
	"context"
	"errors"
)

// EventSource is the transport surface the dispatch loop drives. *Conn
// implements it; tests substitute a scripted fake.
type EventSource interface {
	// DispatchPending processes buffered messages without I/O.
	DispatchPending() (int, error)
	// Flush writes queued requests.
	Flush() error
	// PrepareRead reports whether nothing is buffered and a read is needed.
	PrepareRead() bool
	// WaitReadable suspends until the transport is readable or ctx is done.
	WaitReadable(ctx context.Context) error
	// ReadEvents reads without blocking; ErrWouldBlock means no data.
	ReadEvents() error
}

// Dispatch runs one iteration of the event loop and returns the number of
// events processed, which may be zero.
//
// Already buffered events are dispatched first and, if there were any, the
// iteration ends there so bursts drain without waiting on I/O. Otherwise
// queued requests are flushed, the call suspends until the transport is
// readable, reads, and dispatches whatever the read produced. A would-block
// read yields zero events.
func Dispatch(ctx context.Context, src EventSource) (int, error) {
	n, err := src.DispatchPending()
	if err != nil || n > 0 {
		return n, err
	}
	if err := src.Flush(); err != nil {
		return 0, err
	}
	if src.PrepareRead() {
		if err := src.WaitReadable(ctx); err != nil {
			return 0, err
		}
		if err := src.ReadEvents(); err != nil && !errors.Is(err, ErrWouldBlock) {
			return 0, err
		}
	}
	return src.DispatchPending()
}

package selection

import "context"

// Task is a watcher running in its own goroutine.
type Task struct {
	done chan struct{}
	err  error
}

// Spawn runs w on a new goroutine, emitting on out.
func Spawn(ctx context.Context, w *Watcher, out *Output) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = w.Run(ctx, out)
	}()
	return t
}

// Done is closed when the watcher has stopped.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the watcher's fatal error once Done is closed, or nil for a
// clean shutdown.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the watcher stops or ctx is done, whichever is first.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

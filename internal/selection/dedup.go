package selection

import (
	"context"
	"sync"
)

// Dedup remembers the last text the watcher emitted.
type Dedup struct {
	last string
	set  bool
}

// Observe reports whether text differs from the last emitted text, and if so
// records it as the new last emitted text. Only the immediately preceding
// emission is compared, not the full history.
func (d *Dedup) Observe(text string) bool {
	if d.set && d.last == text {
		return false
	}
	d.last, d.set = text, true
	return true
}

// Last returns the last emitted text, if any.
func (d *Dedup) Last() (string, bool) { return d.last, d.set }

// Output is the bounded, single-producer single-consumer queue of emitted
// text. The consumer reads C and calls Close to ask the watcher to stop.
type Output struct {
	c    chan string
	done chan struct{}

	closeOnce sync.Once
	endOnce   sync.Once
}

// NewOutput returns an Output buffering up to size texts.
func NewOutput(size int) *Output {
	if size < 0 {
		size = 0
	}
	return &Output{c: make(chan string, size), done: make(chan struct{})}
}

// C is closed once the watcher has stopped.
func (o *Output) C() <-chan string { return o.c }

// Close tells the producer the consumer is gone.
func (o *Output) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// Send delivers text, waiting for room. It fails with ErrOutputClosed once
// the consumer has closed the output, or with the context's error.
func (o *Output) Send(ctx context.Context, text string) error {
	select {
	case <-o.done:
		return ErrOutputClosed
	default:
	}
	select {
	case o.c <- text:
		return nil
	case <-o.done:
		return ErrOutputClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// end is called by the producer when it exits.
func (o *Output) end() {
	o.endOnce.Do(func() { close(o.c) })
}

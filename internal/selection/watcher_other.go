//go:build !linux

package selection

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("selection: the Wayland watcher requires linux")

// Watcher is unavailable off linux; New always fails.
type Watcher struct{}

func New(context.Context, Config) (*Watcher, error) { return nil, errUnsupported }

func (w *Watcher) Seat() string { return "" }

func (w *Watcher) Stats() Stats { return Stats{} }

func (w *Watcher) Next(context.Context) (string, error) { return "", errUnsupported }

func (w *Watcher) Run(_ context.Context, out *Output) error {
	out.end()
	return errUnsupported
}

func (w *Watcher) Close() error { return nil }

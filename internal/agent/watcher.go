package agent

import (
	"context"

	"go.klb.dev/mpclip/internal/selection"
)

// watcherFeed adapts a running selection.Watcher to Selections.
type watcherFeed struct {
	w      *selection.Watcher
	out    *selection.Output
	task   *selection.Task
	cancel context.CancelFunc
}

// StartWatcher runs w until the returned feed is stopped.
func StartWatcher(ctx context.Context, w *selection.Watcher, queueSize int) Selections {
	ctx, cancel := context.WithCancel(ctx)
	out := selection.NewOutput(queueSize)
	return &watcherFeed{w: w, out: out, task: selection.Spawn(ctx, w, out), cancel: cancel}
}

func (f *watcherFeed) Texts() <-chan string { return f.out.C() }

func (f *watcherFeed) Stop() {
	f.out.Close()
	f.cancel()
}

func (f *watcherFeed) Wait(ctx context.Context) error { return f.task.Wait(ctx) }

func (f *watcherFeed) Seat() string { return f.w.Seat() }

func (f *watcherFeed) Stats() selection.Stats { return f.w.Stats() }

// Package agent is the mpclip main loop. It moves text between the local
// selection watcher, the relay connection, the clipboard writer and the
// tray, and answers local IPC requests.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"go.klb.dev/mpclip/internal/clip"
	"go.klb.dev/mpclip/internal/ipc"
	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/message"
	"go.klb.dev/mpclip/internal/selection"
	"go.klb.dev/mpclip/internal/store"
	"go.klb.dev/mpclip/internal/syncpeer"
	"go.klb.dev/mpclip/internal/tray"
)

const DefaultShutdownTimeout = 5 * time.Second

// Selections is the local clipboard feed.
type Selections interface {
	// Texts is closed when the feed stops.
	Texts() <-chan string
	// Stop asks the feed to stop.
	Stop()
	// Wait returns the feed's fatal error once it has stopped.
	Wait(ctx context.Context) error
	Seat() string
	Stats() selection.Stats
}

// Sync is the relay connection.
type Sync interface {
	Run(ctx context.Context) error
	Events() <-chan syncpeer.Event
	Send(*message.Clip)
	Connected() bool
	Server() string
}

// Config wires an Agent. Selections, Sync and Writer are required.
type Config struct {
	Source     string
	Selections Selections
	Sync       Sync
	Writer     clip.Writer
	Tray       *tray.Tray
	// IPC is optional; when set the agent serves status requests on it.
	IPC net.Listener

	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Agent is a configured main loop.
type Agent struct {
	cfg   Config
	store *store.Store
	log   *slog.Logger
}

// New validates cfg.
func New(cfg Config) (*Agent, error) {
	if cfg.Selections == nil || cfg.Sync == nil || cfg.Writer == nil {
		return nil, errors.New("agent: selections, sync and writer are required")
	}
	if cfg.Tray == nil {
		cfg.Tray = tray.New(nil)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.For("agent")
	}
	return &Agent{cfg: cfg, store: store.New(), log: cfg.Logger}, nil
}

// Run loops until SIGINT or SIGTERM, a tray quit, ctx cancellation, or the
// selection feed stopping. It then stops every task, giving each up to the
// shutdown timeout. A failed selection feed is returned as the error.
func (a *Agent) Run(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return a.cfg.Sync.Run(gctx) })
	if a.cfg.IPC != nil {
		g.Go(func() error {
			ipc.Serve(gctx, a.cfg.IPC, a.handleIPC)
			return nil
		})
	}

	sel := a.cfg.Selections
	events := a.cfg.Sync.Events()
	a.log.Info("agent running", "source", a.cfg.Source, "seat", sel.Seat(), "server", a.cfg.Sync.Server())

	selStopped := false
loop:
	for {
		select {
		case <-ctx.Done():
			a.log.Info("stopping", "reason", context.Cause(ctx))
			break loop

		case <-a.cfg.Tray.Done():
			a.log.Info("stopping", "reason", "quit")
			break loop

		case text, ok := <-sel.Texts():
			if !ok {
				selStopped = true
				a.log.Warn("selection watcher stopped")
				break loop
			}
			a.onLocalText(text)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			a.onSyncEvent(runCtx, ev)
		}
	}

	return a.shutdown(cancel, g, selStopped)
}

func (a *Agent) shutdown(cancel context.CancelFunc, g *errgroup.Group, selStopped bool) error {
	cancel()
	sel := a.cfg.Selections
	sel.Stop()

	tctx, tcancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer tcancel()
	selErr := sel.Wait(tctx)
	if errors.Is(selErr, context.DeadlineExceeded) {
		a.log.Warn("selection watcher shutdown timed out", "after", a.cfg.ShutdownTimeout)
		selErr = nil
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	tctx2, tcancel2 := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer tcancel2()
	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("sync shutdown", "err", err)
		}
	case <-tctx2.Done():
		a.log.Warn("sync shutdown timed out", "after", a.cfg.ShutdownTimeout)
	}

	st := sel.Stats()
	a.log.Info("agent stopped", "selections", st.Selections, "emitted", st.Emitted, "superseded", st.Superseded)

	if selStopped && selErr != nil {
		return fmt.Errorf("selection watcher: %w", selErr)
	}
	return nil
}

func (a *Agent) onLocalText(text string) {
	c := message.NewClip(text, a.cfg.Source)
	if !a.store.Add(c) {
		a.log.Debug("local text already synced", "preview", logging.Preview(text))
		return
	}
	a.log.Info("local text", "bytes", len(text))
	a.log.Debug("local text", "preview", logging.Preview(text))
	a.cfg.Sync.Send(c)
	a.cfg.Tray.PushSent(text)
}

func (a *Agent) onSyncEvent(ctx context.Context, ev syncpeer.Event) {
	if ev.Connected != nil {
		a.cfg.Tray.SetConnectivity(*ev.Connected)
	}
	if ev.Clip == nil {
		return
	}
	text, err := ev.Clip.Text()
	if err != nil {
		a.log.Warn("undecodable remote clip", "source", ev.Clip.Source, "err", err)
		return
	}
	if !a.store.Add(ev.Clip) {
		a.log.Debug("remote clip ignored", "source", ev.Clip.Source)
		return
	}
	a.log.Info("remote clip", "source", ev.Clip.Source, "bytes", len(text))
	if err := a.cfg.Writer.WriteText(text); err != nil {
		a.log.Error("clipboard write failed", "err", err)
	}
	a.cfg.Tray.PushReceived(ctx, text)
}

// Status builds the STATUS_RESPONSE for this agent.
func (a *Agent) Status() *message.Message {
	st := a.cfg.Selections.Stats()
	return &message.Message{
		Type:   message.TypeStatusResponse,
		Source: a.cfg.Source,
		Role:   message.RoleAgent,
		Agent: &message.AgentInfo{
			Server:     a.cfg.Sync.Server(),
			Connected:  a.cfg.Sync.Connected(),
			Seat:       a.cfg.Selections.Seat(),
			Lines:      a.cfg.Tray.Labels(),
			Selections: st.Selections,
			Emitted:    st.Emitted,
			Superseded: st.Superseded,
		},
	}
}

func (a *Agent) handleIPC(req *message.Message) *message.Message {
	switch req.Type {
	case message.TypeStatus:
		return a.Status()
	case message.TypeStop:
		a.cfg.Tray.Quit()
		return &message.Message{Type: message.TypeStop, Source: a.cfg.Source}
	default:
		return &message.Message{Type: message.TypeError, Error: fmt.Sprintf("unsupported request %q", req.Type)}
	}
}

// Package tray keeps the agent's user-facing state: relay connectivity, the
// last few clips that went in and out, and a quit request.
package tray

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.klb.dev/mpclip/internal/logging"
)

// Capacity is the number of lines kept.
const Capacity = 5

const (
	labelRunes    = 60
	notifyTimeout = 2 * time.Second
)

// Direction says which way a clip travelled.
type Direction int

const (
	Sent Direction = iota
	Received
)

// Line is one entry in the recent-clips list.
type Line struct {
	Dir  Direction
	Text string
}

// String renders the line as shown to the user: "-> text" for sent clips and
// "<- text" for received ones, flattened to one short line.
func (l Line) String() string {
	arrow := "-> "
	if l.Dir == Received {
		arrow = "<- "
	}
	return arrow + label(l.Text)
}

func label(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) > labelRunes {
		return string(r[:labelRunes]) + "…"
	}
	return text
}

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(ctx context.Context, summary, body string) error
}

// Tray is safe for concurrent use.
type Tray struct {
	notifier Notifier
	log      *slog.Logger

	mu        sync.Mutex
	connected bool
	lines     []Line

	quit     chan struct{}
	quitOnce sync.Once
}

// New returns a disconnected tray. n may be nil to disable notifications.
func New(n Notifier) *Tray {
	return &Tray{
		notifier: n,
		log:      logging.For("tray"),
		quit:     make(chan struct{}),
	}
}

// SetConnectivity records the relay connection state.
func (t *Tray) SetConnectivity(up bool) {
	t.mu.Lock()
	changed := t.connected != up
	t.connected = up
	t.mu.Unlock()
	if changed {
		t.log.Info("connectivity", "connected", up)
	}
}

// Connected reports the last recorded connection state.
func (t *Tray) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// PushSent records text copied locally and sent to the relay.
func (t *Tray) PushSent(text string) { t.push(Line{Dir: Sent, Text: text}) }

// PushReceived records text received from the relay and notifies the user.
func (t *Tray) PushReceived(ctx context.Context, text string) {
	t.push(Line{Dir: Received, Text: text})
	if t.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := t.notifier.Notify(ctx, "Clipboard received", label(text)); err != nil {
		t.log.Debug("notification failed", "err", err)
	}
}

func (t *Tray) push(l Line) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, l)
	if len(t.lines) > Capacity {
		t.lines = append(t.lines[:0], t.lines[len(t.lines)-Capacity:]...)
	}
}

// Lines returns the recent lines, oldest first.
func (t *Tray) Lines() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Line(nil), t.lines...)
}

// Labels returns Lines rendered with Line.String.
func (t *Tray) Labels() []string {
	lines := t.Lines()
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.String()
	}
	return out
}

// Quit requests shutdown. It is idempotent.
func (t *Tray) Quit() {
	t.quitOnce.Do(func() {
		t.log.Info("quit requested")
		close(t.quit)
	})
}

// Done is closed once Quit has been called.
func (t *Tray) Done() <-chan struct{} { return t.quit }

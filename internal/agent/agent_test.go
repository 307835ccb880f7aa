package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/mpclip/internal/clip"
	"go.klb.dev/mpclip/internal/ipc"
	"go.klb.dev/mpclip/internal/message"
	"go.klb.dev/mpclip/internal/selection"
	"go.klb.dev/mpclip/internal/syncpeer"
	"go.klb.dev/mpclip/internal/tray"
)

type fakeSelections struct {
	texts    chan string
	stopped  chan struct{}
	stopOnce sync.Once
	err      error
	hang     bool
}

func newFakeSelections() *fakeSelections {
	return &fakeSelections{texts: make(chan string, 8), stopped: make(chan struct{})}
}

func (f *fakeSelections) Texts() <-chan string { return f.texts }

func (f *fakeSelections) Stop() { f.stopOnce.Do(func() { close(f.stopped) }) }

func (f *fakeSelections) Wait(ctx context.Context) error {
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-f.stopped:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSelections) Seat() string { return "seat0" }

func (f *fakeSelections) Stats() selection.Stats { return selection.Stats{Selections: 3, Emitted: 2} }

type fakeSync struct {
	events    chan syncpeer.Event
	sent      chan *message.Clip
	connected atomic.Bool
}

func newFakeSync() *fakeSync {
	return &fakeSync{events: make(chan syncpeer.Event, 8), sent: make(chan *message.Clip, 8)}
}

func (f *fakeSync) Run(ctx context.Context) error {
	<-ctx.Done()
	close(f.events)
	return nil
}

func (f *fakeSync) Events() <-chan syncpeer.Event { return f.events }

func (f *fakeSync) Send(c *message.Clip) { f.sent <- c }

func (f *fakeSync) Connected() bool { return f.connected.Load() }

func (f *fakeSync) Server() string { return "relay:8752" }

type harness struct {
	sel  *fakeSelections
	sync *fakeSync
	rec  *clip.Recorder
	tray *tray.Tray
	ag   *Agent

	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		sel:  newFakeSelections(),
		sync: newFakeSync(),
		rec:  clip.NewRecorder(),
		tray: tray.New(nil),
		done: make(chan error, 1),
	}
	cfg := Config{
		Source:          "laptop",
		Selections:      h.sel,
		Sync:            h.sync,
		Writer:          h.rec,
		Tray:            h.tray,
		ShutdownTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ag, err := New(cfg)
	require.NoError(t, err)
	h.ag = ag

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- ag.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
		return nil
	}
}

func sentText(t *testing.T, s *fakeSync) string {
	t.Helper()
	select {
	case c := <-s.sent:
		text, err := c.Text()
		require.NoError(t, err)
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")
		return ""
	}
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestAgent_LocalTextIsSent(t *testing.T) {
	h := start(t, nil)
	h.sel.texts <- "hello"
	assert.Equal(t, "hello", sentText(t, h.sync))

	h.sel.texts <- "hello"
	h.sel.texts <- "world"
	assert.Equal(t, "world", sentText(t, h.sync), "repeated text is not resent")

	require.Eventually(t, func() bool { return len(h.tray.Lines()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"-> hello", "-> world"}, h.tray.Labels())
	assert.Empty(t, h.rec.Texts())
}

func TestAgent_RemoteClipIsWritten(t *testing.T) {
	h := start(t, nil)
	up := true
	h.sync.events <- syncpeer.Event{Connected: &up}
	h.sync.events <- syncpeer.Event{Clip: message.NewClip("from desktop", "desktop")}

	require.Eventually(t, func() bool { return len(h.rec.Texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"from desktop"}, h.rec.Texts())
	assert.Equal(t, []string{"<- from desktop"}, h.tray.Labels())
	assert.True(t, h.tray.Connected())

	// writing the clipboard makes the watcher see the same text; it must
	// not bounce back to the relay
	h.sel.texts <- "from desktop"
	h.sel.texts <- "next"
	assert.Equal(t, "next", sentText(t, h.sync))
}

func TestAgent_StaleRemoteClipIgnored(t *testing.T) {
	h := start(t, nil)
	h.sel.texts <- "fresh"
	assert.Equal(t, "fresh", sentText(t, h.sync))

	old := message.NewClip("old", "desktop")
	old.Timestamp = old.Timestamp.Add(-time.Hour)
	h.sync.events <- syncpeer.Event{Clip: old}
	h.sync.events <- syncpeer.Event{Clip: message.NewClip("newer", "desktop")}

	require.Eventually(t, func() bool { return len(h.rec.Texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"newer"}, h.rec.Texts())
}

func TestAgent_StopsOnCancel(t *testing.T) {
	h := start(t, nil)
	h.cancel()
	require.NoError(t, h.wait(t))
	_, open := <-h.sel.stopped
	assert.False(t, open, "selection feed stopped")
}

func TestAgent_StopsOnQuit(t *testing.T) {
	h := start(t, nil)
	h.tray.Quit()
	require.NoError(t, h.wait(t))
}

func TestAgent_WatcherFailure(t *testing.T) {
	h := start(t, nil)
	h.sel.err = errors.New("compositor went away")
	close(h.sel.texts)

	err := h.wait(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compositor went away")
}

func TestAgent_ShutdownTimeout(t *testing.T) {
	h := start(t, func(c *Config) {
		c.ShutdownTimeout = 50 * time.Millisecond
		c.Selections.(*fakeSelections).hang = true
	})
	begin := time.Now()
	h.cancel()
	require.NoError(t, h.wait(t))
	assert.Less(t, time.Since(begin), 2*time.Second)
}

func TestAgent_IPC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mpclip.sock")
	ln, err := ipc.Listen(path)
	require.NoError(t, err)
	h := start(t, func(c *Config) { c.IPC = ln })
	h.sync.connected.Store(true)

	h.sel.texts <- "hello"
	sentText(t, h.sync)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var resp *message.Message
	require.Eventually(t, func() bool {
		resp, err = ipc.Query(ctx, path, &message.Message{Type: message.TypeStatus})
		return err == nil && len(resp.Agent.Lines) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, message.RoleAgent, resp.Role)
	assert.Equal(t, "relay:8752", resp.Agent.Server)
	assert.True(t, resp.Agent.Connected)
	assert.Equal(t, "seat0", resp.Agent.Seat)
	assert.Equal(t, []string{"-> hello"}, resp.Agent.Lines)
	assert.Equal(t, uint64(3), resp.Agent.Selections)

	resp, err = ipc.Query(ctx, path, &message.Message{Type: message.TypeStop})
	require.NoError(t, err)
	assert.Equal(t, message.TypeStop, resp.Type)
	require.NoError(t, h.wait(t))
}

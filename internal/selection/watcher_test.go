//go:build linux

package selection

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"go.klb.dev/mpclip/internal/wayland"
	"go.klb.dev/mpclip/internal/wayland/wltest"
)

const waitLimit = 5 * time.Second

// compositor scripts the server side of a data-control session. Its methods
// run on the test goroutine while the watcher runs on another.
type compositor struct {
	t *testing.T
	s *wltest.Server

	registry, seat, manager, device uint32
	nextOffer                       uint32
}

func (c *compositor) expect(sender uint32, opcode uint16) wltest.Msg {
	c.t.Helper()
	m := c.s.Next()
	require.Equal(c.t, sender, m.Sender, "request sender")
	require.Equal(c.t, opcode, m.Opcode, "request opcode")
	return m
}

func (c *compositor) send(rs ...*wayland.Request) {
	c.t.Helper()
	require.NoError(c.t, c.s.SendAll(rs...))
}

// sync answers the client's next wl_display.sync.
func (c *compositor) sync(extra ...*wayland.Request) {
	c.t.Helper()
	cb := c.expect(1, 0).Args().NewID()
	c.send(append(extra,
		wltest.Event(cb, 0).Uint(0),
		wltest.Event(1, 1).Uint(cb))...)
}

// advertise answers get_registry and the first round-trip with globals.
func (c *compositor) advertise(globals ...wayland.Global) {
	c.t.Helper()
	c.registry = c.expect(1, 1).Args().NewID()
	var events []*wayland.Request
	for _, g := range globals {
		events = append(events, wltest.Event(c.registry, 0).Uint(g.Name).String(g.Interface).Uint(g.Version))
	}
	c.sync(events...)
}

type bound struct {
	name    uint32
	iface   string
	version uint32
	id      uint32
}

func (c *compositor) bind() bound {
	c.t.Helper()
	a := c.expect(c.registry, 0).Args()
	b := bound{name: a.Uint(), iface: a.String(), version: a.Uint(), id: a.NewID()}
	require.NoError(c.t, a.Err())
	return b
}

// bindSession answers the seat and manager binds and the bind round-trip,
// sending the seat name unless it is held back.
func (c *compositor) bindSession(sendName bool) (seat, manager bound) {
	c.t.Helper()
	seat, manager = c.bind(), c.bind()
	c.seat, c.manager = seat.id, manager.id
	if sendName {
		c.sync(c.seatName())
	} else {
		c.sync()
	}
	return seat, manager
}

func (c *compositor) seatName() *wayland.Request {
	return wltest.Event(c.seat, 1).String("seat0")
}

// createDevice answers get_data_device and its round-trip.
func (c *compositor) createDevice() {
	c.t.Helper()
	a := c.expect(c.manager, 1).Args()
	c.device = a.NewID()
	assert.Equal(c.t, c.seat, a.Object())
	c.sync()
}

func (c *compositor) handshake() {
	c.t.Helper()
	c.advertise(
		wayland.Global{Name: 1, Interface: "wl_compositor", Version: 6},
		wayland.Global{Name: 2, Interface: "wl_seat", Version: 9},
		wayland.Global{Name: 3, Interface: "zwlr_data_control_manager_v1", Version: 2},
	)
	c.bindSession(true)
	c.createDevice()
}

// offer announces a new offer with its MIME types and makes it the
// selection, all in one burst.
func (c *compositor) offer(mimes ...string) uint32 {
	c.t.Helper()
	id := 0xff000000 + c.nextOffer
	c.nextOffer++
	events := []*wayland.Request{wltest.Event(c.device, 0).NewID(id)}
	for _, m := range mimes {
		events = append(events, wltest.Event(id, 0).String(m))
	}
	events = append(events, wltest.Event(c.device, 1).Object(id))
	c.send(events...)
	return id
}

// receive consumes the receive and destroy requests for offer id and
// returns the requested MIME type and the pipe write end.
func (c *compositor) receive(id uint32) (string, int) {
	c.t.Helper()
	mime := c.expect(id, 0).Args().String()
	fd := c.s.TakeFD()
	c.expect(id, 1)
	return mime, fd
}

func writeClose(t *testing.T, fd int, content string) {
	t.Helper()
	if content != "" {
		_, err := unix.Write(fd, []byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, unix.Close(fd))
}

// selection runs one complete selection cycle carrying content. The
// watcher reads the pipe only after the final round-trip, so a following
// cycle sent before it has settled supersedes this one.
func (c *compositor) selection(content string) {
	c.t.Helper()
	id := c.offer("text/plain;charset=utf-8", "text/plain")
	_, fd := c.receive(id)
	writeClose(c.t, fd, content)
	c.sync()
}

// settled waits until the watcher's counters satisfy done.
func settled(t *testing.T, w *Watcher, done func(Stats) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return done(w.Stats()) }, waitLimit, time.Millisecond,
		"watcher stats never settled")
}

func testConfig() Config {
	return Config{PipeTimeout: 2 * time.Second, Logger: slog.New(slog.DiscardHandler)}
}

type started struct {
	w   *Watcher
	err error
}

func startWatcher(t *testing.T, ctx context.Context) (<-chan started, *compositor) {
	t.Helper()
	conn, s := wltest.Pair(t)
	ch := make(chan started, 1)
	go func() {
		w, err := newWatcher(ctx, conn, testConfig())
		ch <- started{w, err}
	}()
	return ch, &compositor{t: t, s: s}
}

func newSession(t *testing.T, ctx context.Context) (*Watcher, *compositor) {
	t.Helper()
	ch, c := startWatcher(t, ctx)
	c.handshake()
	r := awaitValue(t, ch)
	require.NoError(t, r.err)
	return r.w, c
}

func awaitValue[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	var zero T
	select {
	case v := <-ch:
		return v
	case <-time.After(waitLimit):
		t.Fatal("timed out")
	}
	return zero
}

type emission struct {
	text string
	err  error
}

func nextAsync(ctx context.Context, w *Watcher) <-chan emission {
	ch := make(chan emission, 1)
	go func() {
		text, err := w.Next(ctx)
		ch <- emission{text, err}
	}()
	return ch
}

func TestWatcher_MissingSeat(t *testing.T) {
	ch, c := startWatcher(t, context.Background())
	c.advertise(wayland.Global{Name: 3, Interface: "zwlr_data_control_manager_v1", Version: 2})

	r := awaitValue(t, ch)
	var mce *MissingCapabilityError
	require.ErrorAs(t, r.err, &mce)
	assert.Equal(t, "wl_seat", mce.Interface)
}

func TestWatcher_MissingManager(t *testing.T) {
	ch, c := startWatcher(t, context.Background())
	c.advertise(wayland.Global{Name: 2, Interface: "wl_seat", Version: 9})

	r := awaitValue(t, ch)
	var mce *MissingCapabilityError
	require.ErrorAs(t, r.err, &mce)
	assert.Contains(t, mce.Interface, "data_control_manager")
}

func TestWatcher_PrefersExtManager(t *testing.T) {
	ch, c := startWatcher(t, context.Background())
	c.advertise(
		wayland.Global{Name: 2, Interface: "wl_seat", Version: 9},
		wayland.Global{Name: 3, Interface: "zwlr_data_control_manager_v1", Version: 2},
		wayland.Global{Name: 4, Interface: "ext_data_control_manager_v1", Version: 3},
	)
	seat, manager := c.bindSession(true)
	assert.Equal(t, "wl_seat", seat.iface)
	assert.Equal(t, uint32(2), seat.version)
	assert.Equal(t, uint32(4), manager.name)
	assert.Equal(t, "ext_data_control_manager_v1", manager.iface)
	assert.Equal(t, uint32(1), manager.version)
	c.createDevice()

	r := awaitValue(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, "seat0", r.w.Seat())
}

func TestWatcher_WaitsForSeatName(t *testing.T) {
	ch, c := startWatcher(t, context.Background())
	c.advertise(
		wayland.Global{Name: 2, Interface: "wl_seat", Version: 9},
		wayland.Global{Name: 3, Interface: "zwlr_data_control_manager_v1", Version: 2},
	)
	c.bindSession(false)

	select {
	case r := <-ch:
		t.Fatalf("watcher started before the seat was named: %v", r.err)
	case <-time.After(50 * time.Millisecond):
	}

	c.send(c.seatName())
	c.createDevice()
	r := awaitValue(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, "seat0", r.w.Seat())
}

func TestWatcher_OldSeatHasNoName(t *testing.T) {
	ch, c := startWatcher(t, context.Background())
	c.advertise(
		wayland.Global{Name: 2, Interface: "wl_seat", Version: 1},
		wayland.Global{Name: 3, Interface: "zwlr_data_control_manager_v1", Version: 1},
	)
	seat, manager := c.bindSession(false)
	assert.Equal(t, uint32(1), seat.version)
	assert.Equal(t, uint32(1), manager.version)
	c.createDevice()
	require.NoError(t, awaitValue(t, ch).err)
}

func TestWatcher_EndToEnd(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)

	next := nextAsync(ctx, w)
	c.selection("hello")
	e := awaitValue(t, next)
	require.NoError(t, e.err)
	assert.Equal(t, "hello", e.text)

	next = nextAsync(ctx, w)
	c.selection("hello")
	settled(t, w, func(st Stats) bool { return st.Duplicates == 1 })
	c.selection("world")
	e = awaitValue(t, next)
	require.NoError(t, e.err)
	assert.Equal(t, "world", e.text)

	// T1, T2, T1 is three emissions.
	next = nextAsync(ctx, w)
	c.selection("hello")
	e = awaitValue(t, next)
	require.NoError(t, e.err)
	assert.Equal(t, "hello", e.text)

	assert.Equal(t, Stats{Selections: 4, Emitted: 3, Duplicates: 1}, w.Stats())
}

func TestWatcher_RequestsAdvertisedMIME(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)

	next := nextAsync(ctx, w)
	id := c.offer("image/png", "STRING")
	mime, fd := c.receive(id)
	assert.Equal(t, "STRING", mime)
	writeClose(t, fd, "legacy")
	c.sync()

	e := awaitValue(t, next)
	require.NoError(t, e.err)
	assert.Equal(t, "legacy", e.text)
}

func TestWatcher_SupersededInBurst(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)
	next := nextAsync(ctx, w)

	// Two selections arrive before the watcher gets to read the first.
	first := 0xff000000 + c.nextOffer
	second := first + 1
	c.nextOffer += 2
	c.send(
		wltest.Event(c.device, 0).NewID(first),
		wltest.Event(c.device, 1).Object(first),
		wltest.Event(c.device, 0).NewID(second),
		wltest.Event(c.device, 1).Object(second),
	)
	_, fd1 := c.receive(first)
	_, fd2 := c.receive(second)
	require.NoError(t, unix.Close(fd1))
	writeClose(t, fd2, "second")
	c.sync()

	e := awaitValue(t, next)
	require.NoError(t, e.err)
	assert.Equal(t, "second", e.text)
	assert.Equal(t, uint64(1), w.Stats().Superseded)
}

func TestWatcher_SupersededWhileDraining(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)
	next := nextAsync(ctx, w)

	first := c.offer()
	_, fd1 := c.receive(first)
	writeClose(t, fd1, "first")

	// A newer selection lands during the drain round-trip.
	second := 0xff000000 + c.nextOffer
	c.nextOffer++
	c.sync(
		wltest.Event(c.device, 0).NewID(second),
		wltest.Event(c.device, 1).Object(second),
	)
	_, fd2 := c.receive(second)
	writeClose(t, fd2, "second")
	c.sync()

	e := awaitValue(t, next)
	require.NoError(t, e.err)
	assert.Equal(t, "second", e.text)
	assert.Equal(t, uint64(1), w.Stats().Superseded)
}

func TestWatcher_RejectsNonText(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)
	next := nextAsync(ctx, w)

	c.selection("bin\x00ary")
	settled(t, w, func(st Stats) bool { return st.Rejected == 1 })
	c.selection("\xff\xfe\xfd")
	settled(t, w, func(st Stats) bool { return st.Rejected == 2 })
	c.selection("text again")

	e := awaitValue(t, next)
	require.NoError(t, e.err)
	assert.Equal(t, "text again", e.text)
	assert.Equal(t, Stats{Selections: 3, Emitted: 1, Rejected: 2}, w.Stats())
}

func TestWatcher_ClearedSelection(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)
	next := nextAsync(ctx, w)

	c.send(wltest.Event(c.device, 1).Object(0))
	c.selection("after clear")

	e := awaitValue(t, next)
	require.NoError(t, e.err)
	assert.Equal(t, "after clear", e.text)
}

func TestWatcher_PrimarySelectionIgnored(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)
	next := nextAsync(ctx, w)

	primary := 0xff000000 + c.nextOffer
	c.nextOffer++
	c.send(
		wltest.Event(c.device, 0).NewID(primary),
		wltest.Event(primary, 0).String("text/plain"),
		wltest.Event(c.device, 3).Object(primary),
	)
	c.expect(primary, 1)
	c.selection("clipboard")

	e := awaitValue(t, next)
	require.NoError(t, e.err)
	assert.Equal(t, "clipboard", e.text)
}

func TestTask_CancelWithPipeInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, c := newSession(t, ctx)

	out := NewOutput(4)
	task := Spawn(ctx, w, out)

	// The compositor never writes the content.
	id := c.offer()
	_, fd := c.receive(id)
	defer unix.Close(fd)
	c.sync()

	cancel()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), waitLimit)
	defer waitCancel()
	require.NoError(t, task.Wait(waitCtx))

	_, ok := <-out.C()
	assert.False(t, ok, "no emission after cancellation")
	assert.Zero(t, w.Stats().Emitted)
}

func TestTask_ConsumerGone(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)

	out := NewOutput(1)
	out.Close()
	task := Spawn(ctx, w, out)
	c.selection("nobody listens")

	waitCtx, cancel := context.WithTimeout(ctx, waitLimit)
	defer cancel()
	require.NoError(t, task.Wait(waitCtx))
}

func TestTask_DeliversThenFails(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)

	out := NewOutput(4)
	task := Spawn(ctx, w, out)
	c.selection("hello")
	assert.Equal(t, "hello", awaitValue(t, out.C()))

	c.send(wltest.Event(c.device, 2))

	waitCtx, cancel := context.WithTimeout(ctx, waitLimit)
	defer cancel()
	require.ErrorIs(t, task.Wait(waitCtx), ErrDeviceFinished)
	assert.ErrorIs(t, task.Err(), ErrDeviceFinished)
}

func TestTask_CompositorGone(t *testing.T) {
	ctx := context.Background()
	w, c := newSession(t, ctx)

	out := NewOutput(4)
	task := Spawn(ctx, w, out)
	c.s.Close()

	waitCtx, cancel := context.WithTimeout(ctx, waitLimit)
	defer cancel()
	err := task.Wait(waitCtx)
	var te *wayland.TransportError
	require.ErrorAs(t, err, &te)
}

func TestTask_WaitTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, _ := newSession(t, ctx)

	task := Spawn(ctx, w, NewOutput(1))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	require.ErrorIs(t, task.Wait(waitCtx), context.DeadlineExceeded)

	cancel()
	<-task.Done()
	assert.NoError(t, task.Err())
}

//go:build linux

package wayland

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	defaultDisplay = "wayland-0"

	// maxFDsPerMessage mirrors libwayland's per-sendmsg descriptor cap.
	maxFDsPerMessage = 28
)

// EventHandler decodes and applies one event addressed to a proxy. A returned
// error is fatal to the connection.
type EventHandler func(opcode uint16, args *Args) error

// Proxy is the client-side handle of a protocol object.
type Proxy struct {
	conn    *Conn
	id      uint32
	iface   string
	version uint32
	handler EventHandler
}

// ID returns the wire object id.
func (p *Proxy) ID() uint32 { return p.id }

// Interface returns the protocol interface name.
func (p *Proxy) Interface() string { return p.iface }

// Version returns the bound interface version.
func (p *Proxy) Version() uint32 { return p.version }

// Conn returns the connection the proxy lives on.
func (p *Proxy) Conn() *Conn { return p.conn }

// Handle installs the event handler for the proxy.
func (p *Proxy) Handle(h EventHandler) { p.handler = h }

// Request starts a request sent by this proxy.
func (p *Proxy) Request(opcode uint16) *Request { return NewRequest(p.id, opcode) }

// Send queues r on the connection.
func (p *Proxy) Send(r *Request) { p.conn.Send(r) }

// Destroy sends a destructor request and forgets the proxy. Events still in
// flight for it are dropped.
func (p *Proxy) Destroy(opcode uint16) {
	p.conn.Send(p.Request(opcode))
	delete(p.conn.objects, p.id)
}

// Conn is a client connection to a compositor. It is owned by a single
// goroutine and is not safe for concurrent use.
type Conn struct {
	sock *net.UnixConn
	raw  syscall.RawConn

	out    []byte
	outFDs []int

	in    []byte
	inFDs []int
	rbuf  []byte
	oob   []byte

	objects map[uint32]*Proxy
	nextID  uint32
	display *Display
	fatal   error
}

// Connect opens the compositor socket. display overrides WAYLAND_DISPLAY when
// non-empty. WAYLAND_SOCKET, when set, names an already connected descriptor
// and takes precedence, as in libwayland.
func Connect(display string) (*Conn, error) {
	if s := os.Getenv("WAYLAND_SOCKET"); s != "" && display == "" {
		_ = os.Unsetenv("WAYLAND_SOCKET")
		return connectFD(s)
	}
	path, err := SocketPath(display)
	if err != nil {
		return nil, &ConnectError{Err: err}
	}
	uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, &ConnectError{Endpoint: path, Err: err}
	}
	c, err := NewConn(uc)
	if err != nil {
		_ = uc.Close()
		return nil, &ConnectError{Endpoint: path, Err: err}
	}
	return c, nil
}

func connectFD(s string) (*Conn, error) {
	endpoint := "WAYLAND_SOCKET=" + s
	fd, err := strconv.Atoi(s)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	f := os.NewFile(uintptr(fd), "wayland-socket")
	fc, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	uc, ok := fc.(*net.UnixConn)
	if !ok {
		_ = fc.Close()
		return nil, &ConnectError{Endpoint: endpoint, Err: errors.New("not a unix socket")}
	}
	c, err := NewConn(uc)
	if err != nil {
		_ = uc.Close()
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	return c, nil
}

// SocketPath resolves the compositor socket path the way libwayland does:
// an absolute display name is used as is, a relative one is joined to
// XDG_RUNTIME_DIR, and an empty one falls back to WAYLAND_DISPLAY and then
// "wayland-0".
func SocketPath(display string) (string, error) {
	if display == "" {
		display = os.Getenv("WAYLAND_DISPLAY")
	}
	if display == "" {
		display = defaultDisplay
	}
	if filepath.IsAbs(display) {
		return display, nil
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(dir, display), nil
}

// NewConn wraps an already connected socket.
func NewConn(uc *net.UnixConn) (*Conn, error) {
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("syscall conn: %w", err)
	}
	c := &Conn{
		sock:    uc,
		raw:     raw,
		rbuf:    make([]byte, maxMessageSize),
		oob:     make([]byte, unix.CmsgSpace(maxFDsPerMessage*4)),
		objects: make(map[uint32]*Proxy),
	}
	c.display = newDisplay(c)
	return c, nil
}

// Display returns the wl_display singleton.
func (c *Conn) Display() *Display { return c.display }

// Close closes the socket and every descriptor still owned by the connection.
func (c *Conn) Close() error {
	closeFDs(c.outFDs)
	closeFDs(c.inFDs)
	c.outFDs, c.inFDs = nil, nil
	return c.sock.Close()
}

func (c *Conn) newProxy(iface string, version uint32) *Proxy {
	c.nextID++
	p := &Proxy{conn: c, id: c.nextID, iface: iface, version: version}
	c.objects[p.id] = p
	return p
}

// NewProxy allocates a client-side object id for a new_id request argument.
func (c *Conn) NewProxy(iface string, version uint32) *Proxy {
	return c.newProxy(iface, version)
}

// Adopt registers an object the compositor created through a new_id event
// argument.
func (c *Conn) Adopt(id uint32, iface string, version uint32) *Proxy {
	p := &Proxy{conn: c, id: id, iface: iface, version: version}
	c.objects[id] = p
	return p
}

// Send queues an encoded request. Descriptors attached to r are closed once
// written, or immediately if the connection has already failed.
func (c *Conn) Send(r *Request) {
	if c.fatal != nil {
		closeFDs(r.FDs())
		return
	}
	c.out = append(c.out, r.Bytes()...)
	c.outFDs = append(c.outFDs, r.FDs()...)
}

// Flush writes every queued request. When the socket buffer is full it waits
// for writability and retries the remainder.
func (c *Conn) Flush() error {
	if c.fatal != nil {
		return c.fatal
	}
	for len(c.out) > 0 {
		var oob []byte
		if len(c.outFDs) > 0 {
			oob = unix.UnixRights(c.outFDs...)
		}
		var (
			n    int
			werr error
		)
		err := c.raw.Write(func(fd uintptr) bool {
			for {
				n, werr = unix.SendmsgN(int(fd), c.out, oob, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
				if werr != unix.EINTR {
					return werr != unix.EAGAIN
				}
			}
		})
		if err == nil {
			err = werr
		}
		if err != nil {
			c.fatal = &TransportError{Op: "flush", Err: err}
			return c.fatal
		}
		if oob != nil {
			closeFDs(c.outFDs)
			c.outFDs = c.outFDs[:0]
		}
		c.out = c.out[n:]
	}
	c.out = nil
	return nil
}

// PrepareRead reports whether the caller should wait for the socket. It is
// false when complete messages are already buffered and can be dispatched
// without I/O.
func (c *Conn) PrepareRead() bool {
	_, ok, err := parseHeader(c.in)
	return !ok && err == nil
}

// WaitReadable suspends until the socket is readable or ctx is done. It does
// not consume any data.
func (c *Conn) WaitReadable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = c.sock.SetReadDeadline(time.Unix(1, 0))
	})
	err := c.raw.Read(func(fd uintptr) bool { return readable(int(fd)) })
	if !stop() {
		<-fired
		_ = c.sock.SetReadDeadline(time.Time{})
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return &TransportError{Op: "wait", Err: err}
	}
	return nil
}

// ReadEvents performs one non-blocking read into the incoming buffer. It
// returns ErrWouldBlock when no data was available.
func (c *Conn) ReadEvents() error {
	if c.fatal != nil {
		return c.fatal
	}
	var (
		n, oobn int
		rerr    error
	)
	err := c.raw.Read(func(fd uintptr) bool {
		for {
			n, oobn, _, _, rerr = unix.Recvmsg(int(fd), c.rbuf, c.oob, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
			if rerr != unix.EINTR {
				return true
			}
		}
	})
	if err == nil {
		err = rerr
	}
	if errors.Is(err, unix.EAGAIN) {
		return ErrWouldBlock
	}
	if err != nil {
		c.fatal = &TransportError{Op: "read", Err: err}
		return c.fatal
	}
	if oobn > 0 {
		fds, err := parseRights(c.oob[:oobn])
		c.inFDs = append(c.inFDs, fds...)
		if err != nil {
			c.fatal = &TransportError{Op: "read", Err: err}
			return c.fatal
		}
	}
	if n == 0 {
		c.fatal = &TransportError{Op: "read", Err: io.EOF}
		return c.fatal
	}
	c.in = append(c.in, c.rbuf[:n]...)
	return nil
}

// DispatchPending decodes and dispatches every complete buffered message
// without doing I/O, returning how many were processed.
func (c *Conn) DispatchPending() (int, error) {
	if c.fatal != nil {
		return 0, c.fatal
	}
	n := 0
	for {
		h, ok, err := parseHeader(c.in)
		if err != nil {
			c.fatal = &TransportError{Op: "decode", Err: err}
			return n, c.fatal
		}
		if !ok {
			break
		}
		payload := c.in[headerSize:h.size]
		c.in = c.in[h.size:]
		if err := c.dispatch(h, payload); err != nil {
			c.fatal = err
			return n, err
		}
		n++
	}
	if len(c.in) == 0 {
		c.in = nil
	}
	return n, nil
}

func (c *Conn) dispatch(h header, payload []byte) error {
	p, ok := c.objects[h.sender]
	if !ok || p.handler == nil {
		// Destroyed or uninteresting object.
		return nil
	}
	args := newArgs(payload, c.popFD)
	if err := p.handler(h.opcode, args); err != nil {
		return err
	}
	if err := args.Err(); err != nil {
		return &TransportError{
			Op:  fmt.Sprintf("decode %s@%d event %d", p.Interface(), p.ID(), h.opcode),
			Err: err,
		}
	}
	return nil
}

func (c *Conn) popFD() (int, bool) {
	if len(c.inFDs) == 0 {
		return -1, false
	}
	fd := c.inFDs[0]
	c.inFDs = c.inFDs[1:]
	return fd, true
}

// Roundtrip sends wl_display.sync and dispatches until the compositor has
// answered it, so every request queued before it has been processed.
func (c *Conn) Roundtrip(ctx context.Context) error {
	cb := c.display.Sync()
	for !cb.Done() {
		if _, err := Dispatch(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// readable polls fd without blocking. Errors and hangups count as readable
// so that the following read reports them.
func readable(fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		return err != nil || (n > 0 && fds[0].Revents != 0)
	}
}

func parseRights(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func closeFDs(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}

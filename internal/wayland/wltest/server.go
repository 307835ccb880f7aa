//go:build linux

// Package wltest provides the compositor end of an in-process Wayland
// connection for tests.
package wltest

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"go.klb.dev/mpclip/internal/wayland"
)

const readTimeout = 5 * time.Second

// Msg is one request received from the client. File descriptors travel
// separately; see Server.TakeFD.
type Msg struct {
	Sender  uint32
	Opcode  uint16
	Payload []byte
}

// Args decodes the request arguments.
func (m Msg) Args() *wayland.Args { return wayland.DecodeArgs(m.Payload, nil) }

// Server is the compositor side of a socketpair.
type Server struct {
	t    testing.TB
	sock *net.UnixConn
	buf  []byte
	fds  []int
}

// Pair returns a client connection and the server end it talks to. Both are
// closed when the test ends.
func Pair(t testing.TB) (*wayland.Conn, *Server) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	client := fileConn(t, fds[0], "client")
	server := fileConn(t, fds[1], "server")

	c, err := wayland.NewConn(client)
	require.NoError(t, err)
	s := &Server{t: t, sock: server}
	t.Cleanup(func() {
		_ = c.Close()
		s.Close()
	})
	return c, s
}

func fileConn(t testing.TB, fd int, name string) *net.UnixConn {
	t.Helper()
	f := os.NewFile(uintptr(fd), name)
	fc, err := net.FileConn(f)
	_ = f.Close()
	require.NoError(t, err)
	uc, ok := fc.(*net.UnixConn)
	require.True(t, ok)
	return uc
}

// Close shuts the server end down; the client observes EOF.
func (s *Server) Close() {
	for _, fd := range s.fds {
		_ = unix.Close(fd)
	}
	s.fds = nil
	_ = s.sock.Close()
}

// Send writes an event to the client immediately. Descriptors attached to r
// travel with it and the server's copies are closed.
func (s *Server) Send(r *wayland.Request) error {
	fds := r.FDs()
	if len(fds) == 0 {
		_, err := s.sock.Write(r.Bytes())
		return err
	}
	defer func() {
		for _, fd := range fds {
			_ = unix.Close(fd)
		}
	}()
	_, _, err := s.sock.WriteMsgUnix(r.Bytes(), unix.UnixRights(fds...), nil)
	return err
}

// Next blocks until the next complete request arrives.
func (s *Server) Next() Msg {
	s.t.Helper()
	msg, err := s.next()
	require.NoError(s.t, err)
	return msg
}

// TryNext is Next for use outside the test goroutine: it reports failures
// as an error instead of failing the test.
func (s *Server) TryNext() (Msg, error) { return s.next() }

func (s *Server) next() (Msg, error) {
	for {
		sender, opcode, payload, rest, ok, err := wayland.SplitMessage(s.buf)
		if err != nil {
			return Msg{}, err
		}
		if ok {
			msg := Msg{Sender: sender, Opcode: opcode, Payload: append([]byte(nil), payload...)}
			s.buf = rest
			return msg, nil
		}
		if err := s.fill(); err != nil {
			return Msg{}, err
		}
	}
}

func (s *Server) fill() error {
	b := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4*4))
	_ = s.sock.SetReadDeadline(time.Now().Add(readTimeout))
	n, oobn, _, _, err := s.sock.ReadMsgUnix(b, oob)
	if err != nil {
		return err
	}
	if n == 0 && oobn == 0 {
		return io.EOF
	}
	if oobn > 0 {
		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return err
		}
		for i := range msgs {
			fds, err := unix.ParseUnixRights(&msgs[i])
			if err == nil {
				s.fds = append(s.fds, fds...)
			}
		}
	}
	s.buf = append(s.buf, b[:n]...)
	return nil
}

// TakeFD pops the oldest descriptor received from the client. Descriptors
// arrive in the order of the requests that carry them, so call it after Next
// has returned such a request. The caller owns the descriptor.
func (s *Server) TakeFD() int {
	s.t.Helper()
	require.NotEmpty(s.t, s.fds, "no file descriptor received")
	fd := s.fds[0]
	s.fds = s.fds[1:]
	return fd
}

// SendAll writes several events with a single write, so the client sees
// them as one burst.
func (s *Server) SendAll(rs ...*wayland.Request) error {
	var b []byte
	for _, r := range rs {
		b = append(b, r.Bytes()...)
	}
	_, err := s.sock.Write(b)
	return err
}

// Event starts an event from object sender, ready to pass to Send.
func Event(sender uint32, opcode uint16) *wayland.Request {
	return wayland.NewRequest(sender, opcode)
}

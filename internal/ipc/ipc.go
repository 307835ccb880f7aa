// Package ipc is the local Unix-socket channel that CLI sub-commands use to
// talk to a running agent or relay. Each connection carries one request and
// one reply, framed with the sync wire format (never encrypted).
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/message"
	"go.klb.dev/mpclip/internal/wire"
)

const requestTimeout = 5 * time.Second

// Handler answers one request. A nil reply closes the connection silently.
type Handler func(req *message.Message) *message.Message

// SocketPath returns $MPCLIP_SOCKET, else $XDG_RUNTIME_DIR/mpclip.sock, else
// a per-user file in the temp dir.
func SocketPath() string {
	if s := os.Getenv("MPCLIP_SOCKET"); s != "" {
		return s
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "mpclip.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("mpclip-%d.sock", os.Getuid()))
}

// Listen creates the socket at path. A stale socket left by a crashed process
// is removed; a live one makes Listen fail.
func Listen(path string) (net.Listener, error) {
	if c, err := net.DialTimeout("unix", path, time.Second); err == nil {
		_ = c.Close()
		return nil, fmt.Errorf("ipc: %s already in use", path)
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("ipc: %w", err)
	}
	return ln, nil
}

// Serve answers requests on ln until ctx is cancelled, then closes ln and
// waits for in-flight requests.
func Serve(ctx context.Context, ln net.Listener, h Handler) {
	log := logging.For("ipc")
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Warn("accept failed", "err", err)
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle(conn, h)
		}()
	}
}

func handle(conn net.Conn, h Handler) {
	wc := wire.New(conn, nil)
	defer wc.Close()
	_ = wc.SetReadTimeout(requestTimeout)

	req, err := wc.ReadMsg()
	if err != nil {
		return
	}
	if resp := h(req); resp != nil {
		_ = wc.WriteMsg(resp)
	}
}

// Query sends req to the process listening at path and returns its reply.
func Query(ctx context.Context, path string, req *message.Message) (*message.Message, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: %w", err)
	}
	wc := wire.New(conn, nil)
	defer wc.Close()
	stop := context.AfterFunc(ctx, func() { _ = wc.Close() })
	defer stop()

	if err := wc.WriteMsg(req); err != nil {
		return nil, fmt.Errorf("ipc write: %w", err)
	}
	_ = wc.SetReadTimeout(requestTimeout)
	resp, err := wc.ReadMsg()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ipc read: %w", err)
	}
	return resp, nil
}

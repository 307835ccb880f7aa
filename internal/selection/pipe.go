//go:build linux

package selection

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// PendingPipe is the read end of a pipe the compositor is filling with
// selection content. The watcher owns it until EOF or until it is dropped.
type PendingPipe struct {
	f        *os.File
	mime     string
	timeout  time.Duration
	maxBytes int64
	dropped  bool
}

// openPipe returns a pollable read end and a raw write end. The write end
// stays blocking because it is handed to the compositor's source client.
func openPipe() (*os.File, int, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, -1, fmt.Errorf("pipe: %w", err)
	}
	if err := unix.SetNonblock(p[0], true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return nil, -1, fmt.Errorf("pipe: %w", err)
	}
	return os.NewFile(uintptr(p[0]), "selection"), p[1], nil
}

// MIME is the type requested from the offer.
func (p *PendingPipe) MIME() string { return p.mime }

// Dropped reports whether a newer selection superseded this one.
func (p *PendingPipe) Dropped() bool { return p.dropped }

// Close releases the read end. The compositor's writer sees EPIPE.
func (p *PendingPipe) Close() error { return p.f.Close() }

// ReadAll reads the pipe to EOF. It gives up after the pipe timeout, when
// more than the byte limit arrives, or when ctx is cancelled.
func (p *PendingPipe) ReadAll(ctx context.Context) ([]byte, error) {
	if p.timeout > 0 {
		_ = p.f.SetReadDeadline(time.Now().Add(p.timeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = p.f.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	r := io.Reader(p.f)
	if p.maxBytes > 0 {
		r = io.LimitReader(p.f, p.maxBytes+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &PipeReadError{MIME: p.mime, Err: err}
	}
	if p.maxBytes > 0 && int64(len(b)) > p.maxBytes {
		return nil, &PipeReadError{
			MIME: p.mime,
			Err:  fmt.Errorf("content exceeds %d bytes", p.maxBytes),
		}
	}
	return b, nil
}

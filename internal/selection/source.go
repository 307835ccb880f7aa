//go:build linux

package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/wayland"
)

const (
	managerRequestCreateDataSource = 0

	deviceRequestSetSelection = 0

	sourceRequestOffer   = 0
	sourceRequestDestroy = 1

	sourceEventSend      = 0
	sourceEventCancelled = 1
)

// Source owns the clipboard on its own compositor connection, serving the
// text it was last given to whoever pastes. It is the write side of the
// data-control protocol the Watcher reads with.
type Source struct {
	conn    *wayland.Conn
	fam     family
	manager *wayland.Proxy
	device  *wayland.Proxy
	offers  map[uint32]*wayland.Proxy
	current *wayland.Proxy
	served  sync.WaitGroup
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	pending *string
	wake    context.CancelFunc
	err     error
	done    chan struct{}
}

// NewSource connects to the compositor and creates a data-control device
// for the first seat. The returned Source serves selections until ctx is
// cancelled or the connection fails.
func NewSource(ctx context.Context, cfg Config) (*Source, error) {
	conn, err := wayland.Connect(cfg.Display)
	if err != nil {
		return nil, err
	}
	s, err := newSource(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func newSource(ctx context.Context, conn *wayland.Conn, cfg Config) (*Source, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.For("source")
	}
	cfg = cfg.withDefaults()
	b, err := discover(ctx, conn, cfg.Logger)
	if err != nil {
		return nil, err
	}
	s := &Source{
		conn:    conn,
		fam:     b.fam,
		manager: b.manager,
		device:  conn.NewProxy(b.fam.device, b.manager.Version()),
		offers:  make(map[uint32]*wayland.Proxy),
		timeout: cfg.PipeTimeout,
		log:     cfg.Logger,
		done:    make(chan struct{}),
	}
	b.manager.Send(b.manager.Request(managerRequestGetDataDevice).
		NewID(s.device.ID()).
		Object(b.seat.p.ID()))
	s.device.Handle(s.handleDevice)
	if err := conn.Roundtrip(ctx); err != nil {
		return nil, fmt.Errorf("create data device: %w", err)
	}
	go s.run(ctx)
	return s, nil
}

// Name implements clip.Writer.
func (s *Source) Name() string { return "wayland data-control (" + s.fam.manager + ")" }

// WriteText makes text the clipboard selection. Only the latest text given
// before the serving goroutine wakes up is offered.
func (s *Source) WriteText(text string) error {
	if text == "" {
		return errors.New("refusing to write empty text")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.pending = &text
	if s.wake != nil {
		s.wake()
	}
	return nil
}

// Done is closed once the Source has stopped serving.
func (s *Source) Done() <-chan struct{} { return s.done }

// Err returns why the Source stopped, or nil while it runs and after a
// cancelled context.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}

func (s *Source) run(ctx context.Context) {
	err := s.serve(ctx)
	s.served.Wait()
	if s.current != nil {
		s.current.Destroy(sourceRequestDestroy)
	}
	s.device.Destroy(deviceRequestDestroy)
	_ = s.conn.Flush()
	_ = s.conn.Close()

	if err == nil {
		err = context.Canceled
	} else {
		s.log.Warn("clipboard source stopped", "err", err)
	}
	s.mu.Lock()
	s.err = err
	s.wake = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *Source) serve(ctx context.Context) error {
	for {
		wctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		text := s.pending
		s.pending = nil
		s.wake = cancel
		s.mu.Unlock()

		if text != nil {
			s.offer(*text)
		}
		_, err := wayland.Dispatch(wctx, s.conn)
		cancel()
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case wctx.Err() != nil:
			// Woken by WriteText.
		default:
			return err
		}
	}
}

// offer creates a source advertising the text types and sets it as the
// selection, replacing the previous one.
func (s *Source) offer(text string) {
	src := s.conn.NewProxy(s.fam.source, s.manager.Version())
	s.manager.Send(s.manager.Request(managerRequestCreateDataSource).NewID(src.ID()))
	for _, m := range textMIMEs {
		src.Send(src.Request(sourceRequestOffer).String(m))
	}
	src.Handle(func(opcode uint16, a *wayland.Args) error {
		switch opcode {
		case sourceEventSend:
			mime, fd := a.String(), a.FD()
			if a.Err() != nil {
				return nil
			}
			s.send(text, mime, fd)
		case sourceEventCancelled:
			if s.current == src {
				s.current = nil
			}
			src.Destroy(sourceRequestDestroy)
		}
		return nil
	})
	s.device.Send(s.device.Request(deviceRequestSetSelection).Object(src.ID()))
	s.current = src
	s.log.Debug("clipboard source set", "preview", logging.Preview(text))
}

// send writes text into a paste request's pipe without blocking the event
// loop.
func (s *Source) send(text, mime string, fd int) {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		s.log.Warn("selection send failed", "mime", mime, "err", err)
		return
	}
	f := os.NewFile(uintptr(fd), "selection-send")
	s.served.Add(1)
	go func() {
		defer s.served.Done()
		defer f.Close()
		_ = f.SetWriteDeadline(time.Now().Add(s.timeout))
		if _, err := f.WriteString(text); err != nil {
			s.log.Debug("selection send failed", "mime", mime, "err", err)
		}
	}()
}

// handleDevice drops every offer the compositor announces on this
// connection; the Watcher reads them on its own.
func (s *Source) handleDevice(opcode uint16, a *wayland.Args) error {
	switch opcode {
	case deviceEventDataOffer:
		id := a.NewID()
		if a.Err() == nil {
			s.offers[id] = s.conn.Adopt(id, s.fam.offer, s.device.Version())
		}
	case deviceEventSelection, deviceEventPrimarySelection:
		id := a.Object()
		if a.Err() != nil {
			return nil
		}
		if o, ok := s.offers[id]; ok {
			o.Destroy(offerRequestDestroy)
			delete(s.offers, id)
		}
	case deviceEventFinished:
		return ErrDeviceFinished
	}
	return nil
}

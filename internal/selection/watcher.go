//go:build linux

package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/wayland"
)

// Watcher owns the compositor connection and everything bound on it. It is
// driven by a single goroutine.
type Watcher struct {
	conn   *wayland.Conn
	seat   *seat
	device *wireDevice
	dedup  Dedup
	stats  counters
	log    *slog.Logger
}

// New connects to the compositor, binds a seat and a data-control manager
// and creates the data-control device. It fails with *wayland.ConnectError
// or *MissingCapabilityError when the compositor cannot serve the watcher.
func New(ctx context.Context, cfg Config) (*Watcher, error) {
	conn, err := wayland.Connect(cfg.Display)
	if err != nil {
		return nil, err
	}
	w, err := newWatcher(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return w, nil
}

func newWatcher(ctx context.Context, conn *wayland.Conn, cfg Config) (*Watcher, error) {
	cfg = cfg.withDefaults()
	w := &Watcher{conn: conn, log: cfg.Logger}

	b, err := discover(ctx, conn, w.log)
	if err != nil {
		return nil, err
	}
	w.seat = b.seat
	w.device = newWireDevice(conn, b.fam, b.manager, b.seat.p)
	w.device.dev = newDevice(w.device, cfg.PipeTimeout, cfg.MaxBytes, w.log, &w.stats)
	if err := conn.Roundtrip(ctx); err != nil {
		return nil, fmt.Errorf("create data device: %w", err)
	}
	return w, nil
}

// Seat returns the name of the bound seat.
func (w *Watcher) Seat() string { return w.seat.name }

// Stats returns a snapshot of the watcher's counters. It is safe to call
// from any goroutine.
func (w *Watcher) Stats() Stats { return w.stats.snapshot() }

// Device exposes the selection state machine.
func (w *Watcher) Device() *Device { return w.device.dev }

// Next dispatches compositor events until a selection yields text that
// differs from the last text returned. Per-selection failures are logged and
// skipped; transport and protocol failures are returned.
func (w *Watcher) Next(ctx context.Context) (string, error) {
	dev := w.device.dev
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if p := dev.TakePending(); p != nil {
			text, ok, err := w.drain(ctx, p)
			if err != nil {
				return "", err
			}
			if ok {
				return text, nil
			}
			continue
		}
		if _, err := wayland.Dispatch(ctx, w.conn); err != nil {
			return "", err
		}
	}
}

func (w *Watcher) drain(ctx context.Context, p *PendingPipe) (string, bool, error) {
	defer w.device.dev.Finish(p)

	// The extra round-trip makes sure the compositor has forwarded the
	// receive request, and lets a newer selection supersede this one.
	if err := w.conn.Roundtrip(ctx); err != nil {
		return "", false, err
	}
	if p.Dropped() {
		return "", false, nil
	}

	b, err := p.ReadAll(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		w.stats.rejected.Add(1)
		w.log.Warn("selection read failed", "err", err)
		return "", false, nil
	}

	text, err := Decode(b)
	if err != nil {
		w.stats.rejected.Add(1)
		var de *DecodeError
		if errors.As(err, &de) && de.NUL {
			w.log.Debug("selection is not text", "bytes", len(b))
		} else {
			w.log.Warn("selection rejected", "err", err, "bytes", len(b))
		}
		return "", false, nil
	}
	if text == "" {
		return "", false, nil
	}
	if !w.dedup.Observe(text) {
		w.stats.duplicates.Add(1)
		w.log.Debug("selection unchanged")
		return "", false, nil
	}
	w.stats.emitted.Add(1)
	w.log.Debug("selection changed",
		"mime", p.MIME(),
		"bytes", len(b),
		"preview", logging.Preview(text))
	return text, true, nil
}

// Run emits selections on out until ctx is cancelled, the consumer closes
// out, or the connection fails. Cancellation and a closed output are a clean
// shutdown and return nil. Run closes the watcher and ends out.
func (w *Watcher) Run(ctx context.Context, out *Output) error {
	defer out.end()
	defer w.Close()

	for {
		text, err := w.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := out.Send(ctx, text); err != nil {
			if errors.Is(err, ErrOutputClosed) {
				w.log.Info("selection consumer gone, stopping")
			}
			return nil
		}
	}
}

// Close releases the device and closes the connection. Any pipe still in
// flight is dropped.
func (w *Watcher) Close() error {
	w.device.release()
	_ = w.conn.Flush()
	return w.conn.Close()
}

//go:build linux

package selection

import (
	"context"
	"fmt"
	"log/slog"

	"go.klb.dev/mpclip/internal/wayland"
)

// discovery accumulates the globals the watcher needs while the registry
// burst is processed. It is dropped once binding is done.
type discovery struct {
	seat    *wayland.Global
	manager *wayland.Global
	fam     family
}

func (d *discovery) global(g wayland.Global) {
	switch g.Interface {
	case ifaceSeat:
		if d.seat == nil {
			d.seat = &g
		}
	case extDataControl.manager:
		d.manager, d.fam = &g, extDataControl
	case wlrDataControl.manager:
		if d.manager == nil {
			d.manager, d.fam = &g, wlrDataControl
		}
	}
}

func (d *discovery) check() error {
	if d.seat == nil {
		return &MissingCapabilityError{Interface: ifaceSeat}
	}
	if d.manager == nil {
		return &MissingCapabilityError{
			Interface: extDataControl.manager + " or " + wlrDataControl.manager,
		}
	}
	return nil
}

// bindings are the long-lived objects discovery produces.
type bindings struct {
	seat    *seat
	manager *wayland.Proxy
	fam     family
}

// discover lists the compositor globals, binds the first seat and the best
// data-control manager, and waits for the seat's name.
func discover(ctx context.Context, conn *wayland.Conn, log *slog.Logger) (*bindings, error) {
	var d discovery
	reg := conn.Display().GetRegistry()
	reg.OnGlobal = d.global
	if err := conn.Roundtrip(ctx); err != nil {
		return nil, fmt.Errorf("list globals: %w", err)
	}
	reg.OnGlobal = nil
	if err := d.check(); err != nil {
		return nil, err
	}

	s := bindSeat(reg, *d.seat)
	manager := reg.Bind(d.manager.Name, d.fam.manager, min(d.manager.Version, d.fam.maxVersion))
	reg.OnGlobalRemove = func(name uint32) {
		if name == d.seat.Name {
			log.Warn("seat removed by compositor", "seat", s.name)
		}
	}
	if err := conn.Roundtrip(ctx); err != nil {
		return nil, fmt.Errorf("bind globals: %w", err)
	}
	// Some compositors send the seat name after the bind round-trip; the
	// device must not be created before it arrives.
	for s.awaitsName() {
		if _, err := wayland.Dispatch(ctx, conn); err != nil {
			return nil, fmt.Errorf("wait for seat name: %w", err)
		}
	}
	log.Info("bound compositor globals",
		"seat", s.name,
		"manager", d.fam.manager,
		"version", manager.Version())
	return &bindings{seat: s, manager: manager, fam: d.fam}, nil
}

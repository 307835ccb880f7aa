//go:build linux

package selection

import (
	"golang.org/x/sys/unix"

	"go.klb.dev/mpclip/internal/wayland"
)

const (
	ifaceSeat = "wl_seat"

	seatEventName = 1

	// wl_seat.name exists from version 2 on.
	seatNameSince  = 2
	seatMaxVersion = 2

	managerRequestGetDataDevice = 1

	deviceRequestDestroy = 1

	deviceEventDataOffer        = 0
	deviceEventSelection        = 1
	deviceEventFinished         = 2
	deviceEventPrimarySelection = 3

	offerRequestReceive = 0
	offerRequestDestroy = 1

	offerEventOffer = 0
)

// family names the interfaces of one data-control protocol. The ext and wlr
// variants are wire compatible for everything the watcher and the source use.
type family struct {
	manager    string
	device     string
	offer      string
	source     string
	maxVersion uint32
}

var (
	extDataControl = family{
		manager:    "ext_data_control_manager_v1",
		device:     "ext_data_control_device_v1",
		offer:      "ext_data_control_offer_v1",
		source:     "ext_data_control_source_v1",
		maxVersion: 1,
	}
	wlrDataControl = family{
		manager:    "zwlr_data_control_manager_v1",
		device:     "zwlr_data_control_device_v1",
		offer:      "zwlr_data_control_offer_v1",
		source:     "zwlr_data_control_source_v1",
		maxVersion: 2,
	}
)

// seat is the bound wl_seat. Its name arrives asynchronously after binding.
type seat struct {
	p     *wayland.Proxy
	name  string
	named bool
}

func bindSeat(reg *wayland.Registry, g wayland.Global) *seat {
	s := &seat{p: reg.Bind(g.Name, ifaceSeat, min(g.Version, seatMaxVersion))}
	s.p.Handle(func(opcode uint16, a *wayland.Args) error {
		if opcode == seatEventName {
			name := a.String()
			if a.Err() == nil {
				s.name, s.named = name, true
			}
		}
		return nil
	})
	return s
}

// awaitsName reports whether the bound version will send a name event.
func (s *seat) awaitsName() bool { return s.p.Version() >= seatNameSince && !s.named }

// wireDevice decodes data-control device and offer events into a Device and
// sends the offer requests it decides on.
type wireDevice struct {
	conn   *wayland.Conn
	fam    family
	p      *wayland.Proxy
	dev    *Device
	offers map[uint32]*wayland.Proxy
}

func newWireDevice(conn *wayland.Conn, fam family, manager, seat *wayland.Proxy) *wireDevice {
	w := &wireDevice{
		conn:   conn,
		fam:    fam,
		p:      conn.NewProxy(fam.device, manager.Version()),
		offers: make(map[uint32]*wayland.Proxy),
	}
	manager.Send(manager.Request(managerRequestGetDataDevice).
		NewID(w.p.ID()).
		Object(seat.ID()))
	w.p.Handle(w.handle)
	return w
}

func (w *wireDevice) handle(opcode uint16, a *wayland.Args) error {
	switch opcode {
	case deviceEventDataOffer:
		id := a.NewID()
		if a.Err() != nil {
			return nil
		}
		w.adopt(id)
		w.dev.DataOffer(id)
	case deviceEventSelection:
		id := a.Object()
		if a.Err() == nil {
			w.dev.Selection(id)
		}
	case deviceEventFinished:
		return w.dev.Finished()
	case deviceEventPrimarySelection:
		id := a.Object()
		if a.Err() == nil {
			w.dev.PrimarySelection(id)
		}
	}
	return nil
}

func (w *wireDevice) adopt(id uint32) {
	o := w.conn.Adopt(id, w.fam.offer, w.p.Version())
	o.Handle(func(opcode uint16, a *wayland.Args) error {
		if opcode == offerEventOffer {
			mime := a.String()
			if a.Err() == nil {
				w.dev.OfferMIME(id, mime)
			}
		}
		return nil
	})
	w.offers[id] = o
}

func (w *wireDevice) Receive(id uint32, mime string, fd int) {
	o, ok := w.offers[id]
	if !ok {
		_ = unix.Close(fd)
		return
	}
	o.Send(o.Request(offerRequestReceive).String(mime).FD(fd))
}

func (w *wireDevice) Destroy(id uint32) {
	if o, ok := w.offers[id]; ok {
		o.Destroy(offerRequestDestroy)
		delete(w.offers, id)
	}
}

// release destroys the device itself.
func (w *wireDevice) release() {
	w.dev.Close()
	w.p.Destroy(deviceRequestDestroy)
}

//go:build linux

package selection

import (
	"log/slog"
	"os"
	"time"
)

// State is the phase of the current selection cycle.
type State int

const (
	// Idle has no offer and no pipe in flight.
	Idle State = iota
	// OfferAnnounced has seen data_offer but no selection event for it yet.
	OfferAnnounced
	// SelectionSet has asked the compositor to fill a pipe that has not been
	// taken for reading.
	SelectionSet
	// Draining has handed the pipe to the reader.
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferAnnounced:
		return "offer-announced"
	case SelectionSet:
		return "selection-set"
	case Draining:
		return "draining"
	}
	return "unknown"
}

// Offer is a selection offer announced by the compositor.
type Offer struct {
	ID        uint32
	MIMETypes []string
}

// offerBroker issues the offer requests the device decides on. The wire
// implementation sends them to the compositor; tests record them.
type offerBroker interface {
	// Receive asks the compositor to write offer content into fd and takes
	// ownership of fd.
	Receive(offer uint32, mime string, fd int)
	// Destroy releases the offer.
	Destroy(offer uint32)
}

// Device is the per-seat data-control device as an explicit state machine.
// Its event methods are fed by the wire decoder, or directly by tests.
type Device struct {
	broker   offerBroker
	openPipe func() (*os.File, int, error)
	timeout  time.Duration
	maxBytes int64
	log      *slog.Logger
	stats    *counters

	state    State
	offers   map[uint32]*Offer
	pending  *PendingPipe
	draining *PendingPipe
}

func newDevice(broker offerBroker, timeout time.Duration, maxBytes int64, log *slog.Logger, stats *counters) *Device {
	return &Device{
		broker:   broker,
		openPipe: openPipe,
		timeout:  timeout,
		maxBytes: maxBytes,
		log:      log,
		stats:    stats,
		offers:   make(map[uint32]*Offer),
	}
}

// State returns the current phase.
func (d *Device) State() State { return d.state }

// DataOffer records a newly announced offer.
func (d *Device) DataOffer(id uint32) {
	d.offers[id] = &Offer{ID: id}
	d.settle()
}

// OfferMIME records one MIME type advertised by an offer.
func (d *Device) OfferMIME(id uint32, mime string) {
	if o, ok := d.offers[id]; ok {
		o.MIMETypes = append(o.MIMETypes, mime)
	}
}

// Selection designates offer id as the clipboard selection; zero means the
// clipboard was cleared. A non-zero offer gets a fresh pipe, replacing any
// pipe not yet read.
func (d *Device) Selection(id uint32) {
	d.supersede()
	if id == 0 {
		d.log.Debug("selection cleared")
		d.settle()
		return
	}
	o, ok := d.offers[id]
	if !ok {
		d.log.Warn("selection names unknown offer", "offer", id)
		d.settle()
		return
	}
	delete(d.offers, id)

	r, w, err := d.openPipe()
	if err != nil {
		d.log.Warn("cannot receive selection", "err", err)
		d.broker.Destroy(id)
		d.settle()
		return
	}
	mime := PickMIME(o.MIMETypes)
	d.broker.Receive(id, mime, w)
	d.broker.Destroy(id)
	d.pending = &PendingPipe{f: r, mime: mime, timeout: d.timeout, maxBytes: d.maxBytes}
	d.stats.selections.Add(1)
	d.settle()
}

// PrimarySelection handles the primary (middle-click) selection, which the
// watcher does not follow. Its offer is released.
func (d *Device) PrimarySelection(id uint32) {
	if _, ok := d.offers[id]; ok {
		delete(d.offers, id)
		d.broker.Destroy(id)
	}
	d.settle()
}

// Finished reports that the compositor invalidated the device.
func (d *Device) Finished() error { return ErrDeviceFinished }

// TakePending hands the pending pipe to the reader, or returns nil when no
// selection is waiting.
func (d *Device) TakePending() *PendingPipe {
	p := d.pending
	if p == nil {
		return nil
	}
	d.pending = nil
	d.draining = p
	d.settle()
	return p
}

// Finish closes a pipe returned by TakePending once reading is over.
func (d *Device) Finish(p *PendingPipe) {
	_ = p.Close()
	if d.draining == p {
		d.draining = nil
	}
	d.settle()
}

// Close drops every pipe and offer.
func (d *Device) Close() {
	for _, p := range []*PendingPipe{d.pending, d.draining} {
		if p != nil {
			_ = p.Close()
		}
	}
	d.pending, d.draining = nil, nil
	for id := range d.offers {
		d.broker.Destroy(id)
	}
	clear(d.offers)
	d.settle()
}

// supersede drops the pipes of earlier selections. A draining pipe is marked
// so the reader discards whatever it got.
func (d *Device) supersede() {
	for _, p := range []*PendingPipe{d.pending, d.draining} {
		if p == nil || p.dropped {
			continue
		}
		p.dropped = true
		_ = p.Close()
		d.stats.superseded.Add(1)
		d.log.Debug("selection superseded before it was read", "mime", p.mime)
	}
	d.pending, d.draining = nil, nil
}

func (d *Device) settle() {
	switch {
	case d.pending != nil:
		d.state = SelectionSet
	case d.draining != nil:
		d.state = Draining
	case len(d.offers) > 0:
		d.state = OfferAnnounced
	default:
		d.state = Idle
	}
}

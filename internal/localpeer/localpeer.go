// Package localpeer joins the relay host's own clipboard to the hub.
package localpeer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/mpclip/internal/clip"
	"go.klb.dev/mpclip/internal/hub"
	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/message"
)

// PeerID is the hub id of the local peer.
const PeerID = "local"

// Peer is the hub.Peer that owns the relay host's clipboard.
type Peer struct {
	h      *hub.Hub
	w      clip.Writer
	source string
	sendCh chan *message.Clip
	log    *slog.Logger

	mu       sync.RWMutex
	info     message.PeerInfo
	lastSeen time.Time
}

// New creates the local peer but does not start it.
func New(h *hub.Hub, w clip.Writer, source string) *Peer {
	now := time.Now()
	return &Peer{
		h:      h,
		w:      w,
		source: source,
		sendCh: make(chan *message.Clip, 64),
		log:    logging.For("localpeer"),
		info: message.PeerInfo{
			ID:          PeerID,
			Source:      source,
			Addr:        "local",
			ConnectedAt: now,
		},
		lastSeen: now,
	}
}

func (p *Peer) ID() string { return PeerID }

func (p *Peer) Info() message.PeerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := p.info
	info.LastSeen = p.lastSeen
	return info
}

// Send implements hub.Peer. Clips are written to the clipboard by Run.
func (p *Peer) Send(c *message.Clip) {
	select {
	case p.sendCh <- c:
	default:
		p.log.Warn("send queue full, dropping", "source", c.Source)
	}
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// Run registers with the hub, publishes every text read from local, and
// writes clips from other peers to the clipboard. It returns when ctx is
// cancelled or local is closed.
func (p *Peer) Run(ctx context.Context, local <-chan string) {
	p.h.Register(p)
	defer p.h.Unregister(p)
	p.log.Info("local clipboard peer started", "writer", p.w.Name())

	for {
		select {
		case <-ctx.Done():
			return

		case text, ok := <-local:
			if !ok {
				return
			}
			p.touch()
			p.h.Publish(message.NewClip(text, p.source), PeerID)

		case c := <-p.sendCh:
			text, err := c.Text()
			if err != nil {
				p.log.Warn("undecodable clip", "source", c.Source, "err", err)
				continue
			}
			if err := p.w.WriteText(text); err != nil {
				p.log.Error("local clipboard write failed", "err", err)
				continue
			}
			p.touch()
			p.log.Debug("local clipboard updated", "source", c.Source, "preview", logging.Preview(text))
		}
	}
}

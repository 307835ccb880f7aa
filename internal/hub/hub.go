// Package hub implements the relay's fan-out broker.
// It is transport-agnostic: peers register, receive clips through Send, and
// publish clips they read from their connection.
package hub

import (
	"log/slog"
	"sort"
	"sync"

	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/message"
	"go.klb.dev/mpclip/internal/store"
)

// Peer is anything that can receive clips from the hub.
type Peer interface {
	ID() string
	Info() message.PeerInfo
	// Send delivers a clip to the peer. It is called with the hub locked and
	// must not block.
	Send(*message.Clip)
}

// Hub routes clips between all registered peers and remembers the latest.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]Peer
	latest *store.Store
	log    *slog.Logger
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{
		peers:  make(map[string]Peer),
		latest: store.New(),
		log:    logging.For("hub"),
	}
}

// Register adds a peer and immediately delivers the latest clip, if any.
// The replay happens under the same lock as Publish, so a peer never sees an
// older clip after a newer one.
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	total := len(h.peers)
	if c := h.latest.Latest(); c != nil {
		p.Send(c)
	}
	h.mu.Unlock()

	info := p.Info()
	h.log.Info("peer registered", "peer", p.ID(), "source", info.Source, "addr", info.Addr, "total", total)
}

// Unregister removes a peer from the hub.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	delete(h.peers, p.ID())
	total := len(h.peers)
	h.mu.Unlock()

	h.log.Info("peer unregistered", "peer", p.ID(), "source", p.Info().Source, "total", total)
}

// Publish records clip as the latest and fans it out to every peer except the
// origin. It reports false, and delivers nothing, when the clip repeats the
// latest text or is older than it.
func (h *Hub) Publish(clip *message.Clip, originID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.latest.Add(clip) {
		h.log.Debug("clip ignored", "peer", originID, "source", clip.Source)
		return false
	}
	LogClip(h.log, "clip published", clip)
	for id, p := range h.peers {
		if id != originID {
			p.Send(clip)
		}
	}
	return true
}

// Latest returns the most recent published clip, or nil.
func (h *Hub) Latest() *message.Clip { return h.latest.Latest() }

// Peers returns a snapshot of all current peer metadata ordered by connect
// time.
func (h *Hub) Peers() []message.PeerInfo {
	h.mu.RLock()
	out := make([]message.PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p.Info())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Package tcppeer adapts a relay connection into a hub.Peer.
package tcppeer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/mpclip/internal/crypto"
	"go.klb.dev/mpclip/internal/hub"
	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/message"
	"go.klb.dev/mpclip/internal/wire"
)

// Liveness timings.
var (
	PingInterval = 15 * time.Second
	PongDeadline = 10 * time.Second
	AuthTimeout  = 10 * time.Second
)

const sendQueue = 64

// Peer wraps a single relay connection.
type Peer struct {
	id    string
	conn  *wire.Conn
	h     *hub.Hub
	token string
	log   *slog.Logger

	pingInterval time.Duration
	pongDeadline time.Duration

	sendCh chan *message.Message
	pongCh chan struct{}
	done   chan struct{}
	once   sync.Once

	mu       sync.RWMutex
	info     message.PeerInfo
	lastSeen atomic.Int64 // UnixNano
}

// New creates a Peer for conn. An empty token disables auth; key may be nil
// to disable encryption.
func New(conn net.Conn, h *hub.Hub, token string, key *crypto.Key) *Peer {
	now := time.Now()
	addr := conn.RemoteAddr().String()
	p := &Peer{
		id:    addr,
		conn:  wire.New(conn, key),
		h:     h,
		token: token,
		log:   logging.For("relay").With("peer", addr),

		pingInterval: PingInterval,
		pongDeadline: PongDeadline,

		sendCh: make(chan *message.Message, sendQueue),
		pongCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
		info: message.PeerInfo{
			ID:          addr,
			Addr:        addr,
			ConnectedAt: now,
			LastSeen:    now,
		},
	}
	p.lastSeen.Store(now.UnixNano())
	return p
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) Info() message.PeerInfo {
	p.mu.RLock()
	info := p.info
	p.mu.RUnlock()
	info.LastSeen = time.Unix(0, p.lastSeen.Load())
	return info
}

// Send queues clip for the peer, dropping it when the queue is full.
func (p *Peer) Send(clip *message.Clip) {
	p.enqueue(&message.Message{Type: message.TypeClip, Source: clip.Source, Clip: clip})
}

func (p *Peer) enqueue(msg *message.Message) {
	select {
	case <-p.done:
	case p.sendCh <- msg:
	default:
		p.log.Warn("send queue full, dropping", "type", msg.Type)
	}
}

func (p *Peer) notifyAlive() {
	p.lastSeen.Store(time.Now().UnixNano())
	select {
	case p.pongCh <- struct{}{}:
	default:
	}
}

func (p *Peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// Serve authenticates, registers with the hub, and runs the read, write and
// ping loops until the connection fails or ctx is cancelled.
func (p *Peer) Serve(ctx context.Context) {
	defer p.close()
	stop := context.AfterFunc(ctx, p.close)
	defer stop()

	if !p.authenticate() {
		return
	}

	p.h.Register(p)
	defer p.h.Unregister(p)

	go p.writeLoop()
	go p.pingLoop()
	p.readLoop()
}

func (p *Peer) authenticate() bool {
	if p.token == "" {
		return true
	}
	_ = p.conn.SetReadTimeout(AuthTimeout)
	msg, err := p.conn.ReadMsg()
	if err != nil {
		p.log.Warn("auth read failed", "err", err)
		return false
	}
	_ = p.conn.SetReadTimeout(0)

	if msg.Type != message.TypeAuth || msg.Token() != p.token {
		p.log.Warn("auth failed", "type", msg.Type)
		_ = p.conn.WriteMsg(&message.Message{Type: message.TypeError, Error: message.ErrAuthFailed})
		return false
	}

	p.mu.Lock()
	p.info.Source = msg.Source
	p.mu.Unlock()
	p.log.Info("authenticated", "source", msg.Source)
	return true
}

func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.sendCh:
			if err := p.conn.WriteMsg(msg); err != nil {
				p.log.Error("write failed", "err", err)
				p.close()
				return
			}
		}
	}
}

func (p *Peer) pingLoop() {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		p.enqueue(&message.Message{Type: message.TypePing})
		select {
		case <-p.done:
			return
		case <-p.pongCh:
		case <-time.After(p.pongDeadline):
			p.log.Warn("pong timeout, closing")
			p.close()
			return
		}
	}
}

func (p *Peer) readLoop() {
	for {
		msg, err := p.conn.ReadMsg()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				p.log.Info("connection closed", "err", err)
			}
			return
		}

		p.notifyAlive()

		switch msg.Type {
		case message.TypeClip:
			if msg.Clip == nil {
				p.log.Warn("clip message without clip")
				continue
			}
			if msg.Clip.Source == "" {
				msg.Clip.Source = p.Info().Source
			}
			p.h.Publish(msg.Clip, p.id)

		case message.TypePong:
			// handled by notifyAlive

		case message.TypePing:
			p.enqueue(&message.Message{Type: message.TypePong})

		case message.TypeStatus:
			p.enqueue(&message.Message{
				Type:  message.TypeStatusResponse,
				Role:  message.RoleRelay,
				Peers: p.h.Peers(),
			})

		default:
			p.log.Warn("unexpected message type", "type", msg.Type)
		}
	}
}

// ListenAndServe accepts relay connections on ln until ctx is cancelled, then
// waits for every connection to finish.
func ListenAndServe(ctx context.Context, ln net.Listener, h *hub.Hub, token string, key *crypto.Key) error {
	log := logging.For("relay")
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Error("accept failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		peer := New(conn, h, token, key)
		wg.Add(1)
		go func() {
			defer wg.Done()
			peer.Serve(ctx)
		}()
	}
}

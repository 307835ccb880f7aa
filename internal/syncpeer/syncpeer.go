// Package syncpeer keeps an agent connected to its relay. It reconnects with
// exponential backoff, forwards local clips and reports remote clips and
// connectivity changes as events.
package syncpeer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"go.klb.dev/mpclip/internal/crypto"
	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/message"
	"go.klb.dev/mpclip/internal/wire"
)

const (
	DefaultMinBackoff   = time.Second
	DefaultMaxBackoff   = 30 * time.Second
	DefaultWatchdog     = 45 * time.Second
	DefaultPingInterval = 15 * time.Second
	DefaultDialTimeout  = 10 * time.Second

	outboxSize = 16
	eventsSize = 16
)

// ErrRejected is returned for a session the relay ended with an ERROR
// message, typically a token mismatch.
var ErrRejected = errors.New("rejected by relay")

// Config configures a Client. Zero durations take the defaults above.
type Config struct {
	Server string
	Token  string
	Source string

	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Watchdog     time.Duration
	PingInterval time.Duration
	DialTimeout  time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.MinBackoff, DefaultMinBackoff)
	def(&c.MaxBackoff, DefaultMaxBackoff)
	def(&c.Watchdog, DefaultWatchdog)
	def(&c.PingInterval, DefaultPingInterval)
	def(&c.DialTimeout, DefaultDialTimeout)
	if c.Logger == nil {
		c.Logger = logging.For("sync")
	}
	return c
}

// Event is something the relay connection produced. Exactly one field is set.
type Event struct {
	Connected *bool
	Clip      *message.Clip
}

// Client is a reconnecting relay connection.
type Client struct {
	cfg    Config
	key    *crypto.Key
	log    *slog.Logger
	events chan Event
	outbox chan *message.Clip

	connected atomic.Bool
}

// New validates cfg and derives the session key from its token.
func New(cfg Config) (*Client, error) {
	if cfg.Server == "" {
		return nil, fmt.Errorf("syncpeer: no server address")
	}
	cfg = cfg.withDefaults()
	key, err := crypto.KeyFor(cfg.Token)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		key:    key,
		log:    cfg.Logger.With("server", cfg.Server),
		events: make(chan Event, eventsSize),
		outbox: make(chan *message.Clip, outboxSize),
	}, nil
}

// Events delivers remote clips and connectivity changes. It is closed when
// Run returns.
func (c *Client) Events() <-chan Event { return c.events }

// Connected reports whether a session is currently established.
func (c *Client) Connected() bool { return c.connected.Load() }

// Server returns the relay address.
func (c *Client) Server() string { return c.cfg.Server }

// Send queues a local clip for the relay. Clips queued while disconnected
// are sent once a session is up; when the queue is full the clip is dropped.
func (c *Client) Send(clip *message.Clip) {
	select {
	case c.outbox <- clip:
	default:
		c.log.Warn("send queue full, dropping clip")
	}
}

// Run connects and reconnects until ctx is cancelled. It always returns nil
// after cancellation.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	delay := c.cfg.MinBackoff
	for {
		c.log.Info("connecting")
		d := net.Dialer{Timeout: c.cfg.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", c.cfg.Server)
		if err == nil {
			delay = c.cfg.MinBackoff
			err = c.session(ctx, conn)
		}
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("disconnected", "err", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, c.cfg.MaxBackoff)
	}
}

func (c *Client) setConnected(ctx context.Context, up bool) {
	if c.connected.Swap(up) == up {
		return
	}
	c.log.Info("connectivity changed", "connected", up)
	c.emit(ctx, Event{Connected: &up})
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// session runs one connection until it fails. Reader, writer and watchdog
// share an errgroup so the first failure tears down the other two.
func (c *Client) session(ctx context.Context, conn net.Conn) error {
	wc := wire.New(conn, c.key)
	defer wc.Close()

	if c.cfg.Token != "" {
		if err := wc.WriteMsg(message.NewAuth(c.cfg.Source, c.cfg.Token)); err != nil {
			return fmt.Errorf("auth send: %w", err)
		}
	}

	// Connectivity is reported from the caller's ctx so the final "down"
	// still reaches the consumer after the session group is cancelled.
	c.setConnected(ctx, true)
	defer c.setConnected(ctx, false)

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = wc.Close() })
	defer stop()

	var lastRecv atomic.Int64
	lastRecv.Store(time.Now().UnixNano())
	ctl := make(chan *message.Message, 4)

	g.Go(func() error {
		for {
			msg, err := wc.ReadMsg()
			if err != nil {
				if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
					return io.EOF
				}
				return err
			}
			lastRecv.Store(time.Now().UnixNano())

			switch msg.Type {
			case message.TypeClip:
				if msg.Clip == nil {
					continue
				}
				c.emit(gctx, Event{Clip: msg.Clip})
			case message.TypePing:
				select {
				case ctl <- &message.Message{Type: message.TypePong, Source: c.cfg.Source}:
				default:
				}
			case message.TypePong:
				// handled by lastRecv
			case message.TypeError:
				return fmt.Errorf("%w: %s", ErrRejected, msg.Error)
			}
		}
	})

	g.Go(func() error {
		ping := time.NewTicker(c.cfg.PingInterval)
		defer ping.Stop()
		for {
			var msg *message.Message
			select {
			case <-gctx.Done():
				return nil
			case msg = <-ctl:
			case clip := <-c.outbox:
				msg = &message.Message{Type: message.TypeClip, Source: c.cfg.Source, Clip: clip}
			case <-ping.C:
				msg = &message.Message{Type: message.TypePing, Source: c.cfg.Source}
			}
			if err := wc.WriteMsg(msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	})

	g.Go(func() error {
		check := time.NewTicker(max(c.cfg.Watchdog/9, time.Millisecond))
		defer check.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-check.C:
				age := time.Since(time.Unix(0, lastRecv.Load()))
				if age > c.cfg.Watchdog {
					return fmt.Errorf("watchdog: relay silent for %s", age.Round(time.Millisecond))
				}
			}
		}
	})

	return g.Wait()
}

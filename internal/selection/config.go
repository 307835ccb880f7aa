// Package selection watches the Wayland clipboard through the data-control
// protocol and emits each novel plain-text selection.
package selection

import (
	"log/slog"
	"time"

	"go.klb.dev/mpclip/internal/logging"
)

const (
	DefaultPipeTimeout = 5 * time.Second
	DefaultMaxBytes    = 16 << 20
)

// Config tunes a Watcher. The zero value is usable.
type Config struct {
	// Display overrides WAYLAND_DISPLAY.
	Display string
	// PipeTimeout bounds how long one selection may take to arrive.
	PipeTimeout time.Duration
	// MaxBytes caps the size of one selection.
	MaxBytes int64
	Logger   *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PipeTimeout <= 0 {
		c.PipeTimeout = DefaultPipeTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.Logger == nil {
		c.Logger = logging.For("selection")
	}
	return c
}

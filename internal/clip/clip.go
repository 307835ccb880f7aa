// Package clip writes received text to the system clipboard. Build
// constraints select the implementation:
//
//	clip_linux.go    Wayland data-control, then clip_system.go
//	clip_desktop.go  darwin and windows, clip_system.go
//	clip_system.go   golang.design/x/clipboard, headless without a display
//	clip_other.go    everything else, always headless
package clip

import (
	"log/slog"
	"sync"

	"go.klb.dev/mpclip/internal/logging"
)

// Writer takes ownership of the clipboard with a text selection.
type Writer interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// WriteText replaces the clipboard contents with text.
	WriteText(text string) error
}

// Recorder is a Writer that keeps every text it was given. It backs the
// headless mode and doubles as a test fake.
type Recorder struct {
	mu    sync.Mutex
	texts []string
	log   *slog.Logger
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{log: logging.For("clip")} }

func (r *Recorder) Name() string { return "headless (no-op)" }

func (r *Recorder) WriteText(text string) error {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	r.log.Debug("clipboard write discarded", "preview", logging.Preview(text))
	return nil
}

// Texts returns a copy of everything written so far.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

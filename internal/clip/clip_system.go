//go:build linux || darwin || windows

package clip

import (
	"fmt"

	"golang.design/x/clipboard"

	"go.klb.dev/mpclip/internal/logging"
)

type systemWriter struct{}

// newSystem returns the golang.design clipboard writer, or a headless
// Recorder when it cannot reach a display. clipboard.Init is called here
// rather than in init() so that commands which never write (status, stop)
// don't trigger it.
func newSystem() Writer {
	if err := clipboard.Init(); err != nil {
		logging.For("clip").Warn("clipboard unavailable, running headless: received clips will not be pasteable", "err", err)
		return NewRecorder()
	}
	return &systemWriter{}
}

func (w *systemWriter) Name() string { return "system clipboard" }

func (w *systemWriter) WriteText(text string) error {
	if text == "" {
		return fmt.Errorf("refusing to write empty text")
	}
	// The returned channel only reports losing ownership, which the
	// selection watcher observes anyway.
	_ = clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

package clip

import (
	"context"

	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/selection"
)

// New takes the clipboard through Wayland data-control on display, serving
// selections until ctx is done. Without a data-control compositor it falls
// back to the X11 system clipboard.
func New(ctx context.Context, display string) Writer {
	log := logging.For("clip")
	src, err := selection.NewSource(ctx, selection.Config{Display: display, Logger: log})
	if err != nil {
		log.Warn("wayland clipboard source unavailable, trying X11", "err", err)
		return newSystem()
	}
	return src
}

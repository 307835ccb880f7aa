package hub

import (
	"context"
	"log/slog"

	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/message"
)

// LogClip logs a clip event at INFO (source, size) and its text preview at
// DEBUG.
func LogClip(log *slog.Logger, event string, clip *message.Clip) {
	text, err := clip.Text()
	if err != nil {
		log.Warn(event, "source", clip.Source, "err", err)
		return
	}
	log.Info(event, "source", clip.Source, "bytes", len(text))
	if log.Enabled(context.Background(), slog.LevelDebug) {
		log.Debug("clip text", "preview", logging.Preview(text))
	}
}

// Package logging configures the global slog logger for mpclip.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Format selects the log output format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// previewRunes bounds clipboard text in debug lines.
const previewRunes = 120

// ParseFormat converts a string to a Format, returning FormatAuto for unknown values.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "text", "tint", "human":
		return FormatText
	case "json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// ParseLevel converts a string to a slog.Level. An empty or unknown value
// yields def.
func ParseLevel(s string, def slog.Level) slog.Level {
	var l slog.Level
	if s == "" || l.UnmarshalText([]byte(s)) != nil {
		return def
	}
	return l
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DefaultLevel is debug for an interactive session and info when running as
// a service.
func DefaultLevel() slog.Level {
	if IsTTY(os.Stderr) {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// NewHandler builds the handler Setup installs, writing to w.
func NewHandler(w io.Writer, format Format, level slog.Level) slog.Handler {
	if format == FormatText || (format == FormatAuto && IsTTY(w)) {
		return tinter.NewHandler(w, &tinter.Options{
			Level:      level,
			TimeFormat: "15:04:05.000",
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// Setup configures the global slog logger. Call once after flag/viper parsing.
func Setup(format Format, level slog.Level) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, format, level)))
}

// For returns the default logger tagged with a component name. It resolves
// slog.Default at call time, so call it after Setup.
func For(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// Preview shortens clipboard text for debug output.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	i, n := 0, 0
	for i = range text {
		if n == previewRunes {
			break
		}
		n++
	}
	return text[:i] + "…"
}

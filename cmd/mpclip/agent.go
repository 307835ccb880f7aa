package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/mpclip/internal/agent"
	"go.klb.dev/mpclip/internal/clip"
	"go.klb.dev/mpclip/internal/ipc"
	"go.klb.dev/mpclip/internal/selection"
	"go.klb.dev/mpclip/internal/syncpeer"
	"go.klb.dev/mpclip/internal/tray"
)

func newAgentCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Watch the Wayland clipboard and sync it with a relay",
		Long: `Connects to the Wayland compositor, watches the regular clipboard through
ext-data-control-v1 (or wlr-data-control-unstable-v1) and exchanges every new
text selection with the relay. Text received from the relay is written back to
the local clipboard. Reconnects to the relay automatically.

Config file search order:
  /etc/mpclip/mpclip.toml
  $HOME/.config/mpclip/mpclip.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → MPCLIP_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runAgent(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("server", fmt.Sprintf("localhost:%d", defaultPort), "relay address (host:port)")
	f.String("token", "", "shared secret (must match the relay; empty = no auth, no encryption)")
	f.String("source", defaultSource(), "name for this host in peer lists")
	f.String("display", "", "Wayland display (default: $WAYLAND_DISPLAY or wayland-0)")
	f.Bool("notify", true, "show a desktop notification for received text")
	f.Int("queue-size", 255, "selections buffered between the watcher and the sync loop")
	f.Duration("pipe-timeout", selection.DefaultPipeTimeout, "give up reading a selection after this long")
	f.Int64("max-bytes", selection.DefaultMaxBytes, "largest selection accepted, in bytes")
	f.Duration("shutdown-timeout", agent.DefaultShutdownTimeout, "time allowed for each task to stop")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runAgent(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	if ctx == nil {
		ctx = context.Background()
	}

	source := v.GetString("source")
	slog.Info("mpclip agent starting",
		"version", Version,
		"server", v.GetString("server"),
		"source", source,
		"encrypted", v.GetString("token") != "",
	)

	w, err := selection.New(ctx, selection.Config{
		Display:     v.GetString("display"),
		PipeTimeout: v.GetDuration("pipe-timeout"),
		MaxBytes:    v.GetInt64("max-bytes"),
	})
	if err != nil {
		return fmt.Errorf("selection watcher: %w", err)
	}
	slog.Info("watching clipboard", "seat", w.Seat())

	sc, err := syncpeer.New(syncpeer.Config{
		Server: v.GetString("server"),
		Token:  v.GetString("token"),
		Source: source,
	})
	if err != nil {
		_ = w.Close()
		return err
	}

	writer := clip.New(ctx, v.GetString("display"))
	slog.Info("clipboard writer", "name", writer.Name())

	var notifier tray.Notifier
	if v.GetBool("notify") {
		if n, err := tray.NewDBusNotifier(); err != nil {
			slog.Warn("desktop notifications unavailable", "err", err)
		} else {
			defer n.Close()
			notifier = n
		}
	}

	cfg := agent.Config{
		Source:          source,
		Selections:      agent.StartWatcher(ctx, w, v.GetInt("queue-size")),
		Sync:            sc,
		Writer:          writer,
		Tray:            tray.New(notifier),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
	}

	path := ipc.SocketPath()
	if ln, err := ipc.Listen(path); err != nil {
		slog.Warn("IPC socket unavailable", "err", err)
	} else {
		slog.Info("IPC socket listening", "path", path)
		cfg.IPC = ln
	}

	a, err := agent.New(cfg)
	if err != nil {
		cfg.Selections.Stop()
		return err
	}
	return a.Run(ctx)
}

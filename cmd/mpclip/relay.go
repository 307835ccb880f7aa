package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"go.klb.dev/mpclip/internal/clip"
	"go.klb.dev/mpclip/internal/crypto"
	"go.klb.dev/mpclip/internal/hub"
	"go.klb.dev/mpclip/internal/ipc"
	"go.klb.dev/mpclip/internal/localpeer"
	"go.klb.dev/mpclip/internal/message"
	"go.klb.dev/mpclip/internal/selection"
	"go.klb.dev/mpclip/internal/tcppeer"
)

func newRelayCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay that agents sync through",
		Long: `Starts the mpclip relay. Every connected agent receives the clips published
by the others, and the latest clip when it connects. With --local the relay
host's own Wayland clipboard takes part as well.

Config file search order:
  /etc/mpclip/mpclip.toml
  $HOME/.config/mpclip/mpclip.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → MPCLIP_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runRelay(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("addr", fmt.Sprintf("0.0.0.0:%d", defaultPort), "TCP listen address")
	f.String("token", "", "shared secret (empty = no auth, no encryption)")
	f.Bool("local", false, "also sync this host's Wayland clipboard")
	f.String("source", defaultSource(), "name for this host in peer lists")
	f.String("display", "", "Wayland display used with --local")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runRelay(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := v.GetString("addr")
	token := v.GetString("token")
	key, err := crypto.KeyFor(token)
	if err != nil {
		return err
	}

	slog.Info("mpclip relay starting",
		"version", Version,
		"addr", addr,
		"local_clip", v.GetBool("local"),
		"encrypted", key != nil,
	)

	h := hub.New()
	g, gctx := errgroup.WithContext(ctx)

	if v.GetBool("local") {
		w, err := selection.New(ctx, selection.Config{Display: v.GetString("display")})
		if err != nil {
			return fmt.Errorf("selection watcher: %w", err)
		}
		out := selection.NewOutput(64)
		task := selection.Spawn(gctx, w, out)
		lp := localpeer.New(h, clip.New(gctx, v.GetString("display")), v.GetString("source"))
		g.Go(func() error {
			lp.Run(gctx, out.C())
			out.Close()
			return task.Wait(context.Background())
		})
	}

	path := ipc.SocketPath()
	if ipcLn, err := ipc.Listen(path); err != nil {
		slog.Warn("IPC socket unavailable", "err", err)
	} else {
		slog.Info("IPC socket listening", "path", path)
		g.Go(func() error {
			ipc.Serve(gctx, ipcLn, func(req *message.Message) *message.Message {
				if req.Type != message.TypeStatus {
					return &message.Message{Type: message.TypeError, Error: fmt.Sprintf("unsupported request %q", req.Type)}
				}
				return &message.Message{Type: message.TypeStatusResponse, Role: message.RoleRelay, Peers: h.Peers()}
			})
			return nil
		})
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	slog.Info("listening", "addr", ln.Addr())
	g.Go(func() error { return tcppeer.ListenAndServe(gctx, ln, h, token, key) })

	return g.Wait()
}

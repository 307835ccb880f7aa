// mpclip: Wayland clipboard sync agent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mpclip",
		Short: "Sync the Wayland clipboard through a relay",
		Long: `mpclip watches the Wayland clipboard through the data-control protocol
and keeps it in sync with every other machine connected to the same relay.

Run "mpclip relay" on one reachable host and "mpclip agent" in each desktop
session. Use "mpclip status" to inspect a running agent or relay.

Config file search order (first found wins):
  /etc/mpclip/mpclip.toml
  $HOME/.config/mpclip/mpclip.toml
  path supplied via --config

All flags can be set via MPCLIP_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newAgentCmd(),
		newRelayCmd(),
		newStatusCmd(),
		newStopCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mpclip %s\n", Version)
		},
	}
}

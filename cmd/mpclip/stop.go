package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"go.klb.dev/mpclip/internal/ipc"
	"go.klb.dev/mpclip/internal/message"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the running agent to quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
			defer cancel()
			resp, err := ipc.Query(ctx, ipc.SocketPath(), &message.Message{Type: message.TypeStop})
			if err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			if resp.Type == message.TypeError {
				return fmt.Errorf("stop: %s", resp.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent %s stopping\n", resp.Source)
			return nil
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/mpclip/internal/crypto"
	"go.klb.dev/mpclip/internal/ipc"
	"go.klb.dev/mpclip/internal/message"
	"go.klb.dev/mpclip/internal/wire"
)

const statusTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running agent or relay",
		Long: `Asks the agent or relay running in this session over the IPC Unix socket.
An agent reports its relay connection and the last clips it sent and received;
a relay lists its peers. Pass --server to ask a relay directly over TCP.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	f := cmd.Flags()
	f.String("server", "", "relay address to query over TCP instead of the local socket")
	f.String("token", "", "shared secret (with --server)")
	f.String("source", defaultSource(), "source identifier")
	f.Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	var (
		resp      *message.Message
		transport string
		err       error
	)
	if server := v.GetString("server"); cmd.Flags().Changed("server") && server != "" {
		transport = fmt.Sprintf("tcp (%s)", server)
		resp, err = queryRelay(ctx, server, v.GetString("token"), v.GetString("source"))
	} else {
		path := ipc.SocketPath()
		transport = fmt.Sprintf("ipc (%s)", path)
		resp, err = ipc.Query(ctx, path, &message.Message{Type: message.TypeStatus})
	}
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if resp.Type == message.TypeError {
		return fmt.Errorf("status: %s", resp.Error)
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printStatus(out, resp, v.GetString("source"), transport)
	return nil
}

// queryRelay asks a relay for its peer list over a short-lived connection.
func queryRelay(ctx context.Context, server, token, source string) (*message.Message, error) {
	key, err := crypto.KeyFor(token)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", server)
	if err != nil {
		return nil, err
	}
	wc := wire.New(conn, key)
	defer wc.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if token != "" {
		if err := wc.WriteMsg(message.NewAuth(source, token)); err != nil {
			return nil, err
		}
	}
	if err := wc.WriteMsg(&message.Message{Type: message.TypeStatus, Source: source}); err != nil {
		return nil, err
	}
	for {
		m, err := wc.ReadMsg()
		if err != nil {
			return nil, err
		}
		switch m.Type {
		case message.TypeStatusResponse, message.TypeError:
			return m, nil
		}
		// the relay may push its latest clip or a ping first
	}
}

func printStatus(out io.Writer, resp *message.Message, mySource, transport string) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Role:\t%s\n", resp.Role)
	fmt.Fprintf(w, "Transport:\t%s\n", transport)

	if a := resp.Agent; a != nil {
		state := "disconnected"
		if a.Connected {
			state = "connected"
		}
		fmt.Fprintf(w, "Relay:\t%s (%s)\n", a.Server, state)
		if a.Seat != "" {
			fmt.Fprintf(w, "Seat:\t%s\n", a.Seat)
		}
		fmt.Fprintf(w, "Selections:\t%d seen, %d emitted, %d superseded\n", a.Selections, a.Emitted, a.Superseded)
		fmt.Fprintln(w)
		_ = w.Flush()

		if len(a.Lines) == 0 {
			fmt.Fprintln(out, "No recent clips.")
			return
		}
		for _, l := range a.Lines {
			fmt.Fprintln(out, l)
		}
		return
	}
	fmt.Fprintln(w)
	_ = w.Flush()

	if len(resp.Peers) == 0 {
		fmt.Fprintln(out, "No peers connected.")
		return
	}
	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tSOURCE\tADDR\tCONNECTED\tLAST SEEN\n")
	_, _ = fmt.Fprintf(tw, "\t------\t----\t---------\t---------\n")
	for _, p := range resp.Peers {
		marker := ""
		if p.Source == mySource {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			marker, p.Source, p.Addr, fmtAge(p.ConnectedAt), fmtAge(p.LastSeen),
		)
	}
	_ = tw.Flush()
}

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/mpclip/internal/logging"
	"go.klb.dev/mpclip/internal/message"
)

func TestIsContainerID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"3f4e5d6c7b8a", true},
		{strings.Repeat("a", 64), true},
		{"laptop", false},
		{"3f4e5d6c7b8", false},
		{"3F4E5D6C7B8A", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isContainerID(tt.in), tt.in)
	}
}

func TestDefaultSource_Env(t *testing.T) {
	t.Setenv("MPCLIP_SOURCE", "my-box")
	assert.Equal(t, "my-box", defaultSource())
}

func TestFmtAge(t *testing.T) {
	assert.Equal(t, "-", fmtAge(time.Time{}))
	assert.Equal(t, "5s ago", fmtAge(time.Now().Add(-5*time.Second)))
	assert.Equal(t, "3m ago", fmtAge(time.Now().Add(-3*time.Minute)))
}

func TestSetupLogging_Levels(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	ctx := context.Background()

	v := viper.New()
	setupLogging(v)
	assert.Equal(t, logging.DefaultLevel() == slog.LevelDebug, slog.Default().Enabled(ctx, slog.LevelDebug))

	v.Set("no-background", true)
	setupLogging(v)
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelDebug))

	v.Set("log-level", "warn")
	setupLogging(v)
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelInfo))
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelWarn))
}

func bindTest(t *testing.T, file string, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.Flags().String("server", "localhost:8752", "")
	cmd.Flags().Duration("pipe-timeout", 5*time.Second, "")
	addConfigFlag(cmd)
	if file != "" {
		args = append(args, "--config", file)
	}
	require.NoError(t, cmd.ParseFlags(args))
	require.NoError(t, bindViper(cmd, v))
	return v
}

func TestBindViper_Precedence(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "mpclip.toml")
	require.NoError(t, os.WriteFile(path, []byte("server = \"file:1\"\npipe-timeout = \"2s\"\n"), 0o600))

	v := bindTest(t, "")
	assert.Equal(t, "localhost:8752", v.GetString("server"))

	v = bindTest(t, path)
	assert.Equal(t, "file:1", v.GetString("server"))
	assert.Equal(t, 2*time.Second, v.GetDuration("pipe-timeout"))

	t.Setenv("MPCLIP_SERVER", "env:2")
	t.Setenv("MPCLIP_PIPE_TIMEOUT", "3s")
	v = bindTest(t, path)
	assert.Equal(t, "env:2", v.GetString("server"))
	assert.Equal(t, 3*time.Second, v.GetDuration("pipe-timeout"))

	v = bindTest(t, path, "--server", "flag:3")
	assert.Equal(t, "flag:3", v.GetString("server"))
}

func TestBindViper_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	cmd := &cobra.Command{Use: "x"}
	addConfigFlag(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "none.toml")}))
	require.Error(t, bindViper(cmd, v))
}

func TestPrintStatus_Agent(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &message.Message{
		Role: message.RoleAgent,
		Agent: &message.AgentInfo{
			Server:     "relay:8752",
			Connected:  true,
			Seat:       "seat0",
			Lines:      []string{"-> one", "<- two"},
			Selections: 4, Emitted: 2, Superseded: 1,
		},
	}, "laptop", "ipc (/run/mpclip.sock)")

	out := buf.String()
	assert.Contains(t, out, "relay:8752 (connected)")
	assert.Contains(t, out, "4 seen, 2 emitted, 1 superseded")
	assert.Contains(t, out, "-> one\n<- two\n")
}

func TestPrintStatus_Relay(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &message.Message{
		Role: message.RoleRelay,
		Peers: []message.PeerInfo{
			{Source: "laptop", Addr: "10.0.0.2:5000", ConnectedAt: time.Now()},
			{Source: "desktop", Addr: "10.0.0.3:5000", ConnectedAt: time.Now()},
		},
	}, "laptop", "tcp (relay:8752)")

	out := buf.String()
	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "*  laptop")
	assert.Contains(t, out, "desktop")

	buf.Reset()
	printStatus(&buf, &message.Message{Role: message.RoleRelay}, "x", "ipc")
	assert.Contains(t, buf.String(), "No peers connected.")
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "mpclip dev\n", buf.String())
}

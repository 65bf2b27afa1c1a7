package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/rpcxbench/bench"
	"github.com/smallnest/rpcxbench/log"
	"github.com/smallnest/rpcxbench/protocol"
)

func init() {
	log.SetDummyLogger()
	color.NoColor = true
}

func TestProcessConfigDefaults(t *testing.T) {
	cmd := newRootCmd()
	v := viper.New()
	initConfig(v)
	require.NoError(t, v.BindPFlags(cmd.Flags()))

	opts := &options{}
	require.NoError(t, processConfig(v, opts))

	assert.Equal(t, bench.DefaultUnixAddress, opts.unix.Address)
	assert.Equal(t, bench.DefaultTCPAddress, opts.tcp.Address)
	for _, c := range []bench.Config{opts.unix, opts.tcp} {
		assert.Equal(t, 1000, c.Iterations)
		assert.Equal(t, 10, c.Warmup)
		assert.Equal(t, protocol.MsgPack, c.SerializeType)
		assert.Zero(t, c.CallTimeout)
		assert.Equal(t, protocol.DefaultMaxMessageLength, c.MaxMessageLength)
	}
	assert.False(t, opts.serverMetrics)
	assert.Empty(t, opts.csvPath)
}

func TestProcessConfigEnvAndFlags(t *testing.T) {
	t.Setenv("RPCXBENCH_ITERATIONS", "42")
	t.Setenv("RPCXBENCH_CALL_TIMEOUT", "250ms")

	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--codec", "json", "--server-workers", "4", "--throttle", "100", "--max-message-length", "2048"}))
	v := viper.New()
	initConfig(v)
	require.NoError(t, v.BindPFlags(cmd.Flags()))

	opts := &options{}
	require.NoError(t, processConfig(v, opts))
	assert.Equal(t, 42, opts.tcp.Iterations)
	assert.Equal(t, 250*time.Millisecond, opts.tcp.CallTimeout)
	assert.Equal(t, protocol.JSON, opts.unix.SerializeType)
	assert.Equal(t, 4, opts.unix.ServerWorkers)
	assert.Equal(t, 100.0, opts.tcp.Throttle)
	assert.Equal(t, 2048, opts.unix.MaxMessageLength)
}

func TestProcessConfigInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"--codec", "xml"},
		{"--log-level", "loud"},
	} {
		cmd := newRootCmd()
		require.NoError(t, cmd.Flags().Parse(args))
		v := viper.New()
		require.NoError(t, v.BindPFlags(cmd.Flags()))
		assert.Error(t, processConfig(v, &options{}), "%v", args)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "bench.sock")
	csvPath := filepath.Join(dir, "results.csv")

	out, err := execute(t,
		"--iterations", "20",
		"--unix", "unix://"+sock,
		"--tcp", "tcp://127.0.0.1:0",
		"--server-metrics",
		"--csv", csvPath,
	)
	require.NoError(t, err)

	assert.Contains(t, out, "Running rpcx latency benchmark with 20 iterations...\n\n")
	assert.Contains(t, out, "Testing Unix sockets...\nUnix Socket Results:\n  Min:     ")
	assert.Contains(t, out, "Testing TCP sockets...\nTCP Socket Results:\n  Min:     ")
	assert.Contains(t, out, "  Server handling time:\n  service_Echo.Echo_CallTime: count=")
	assert.Regexp(t, `Comparison:\n  (Unix|TCP) sockets are \d+\.\d{2}x faster than (TCP|Unix)\n$`, out)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\ntcp,20,")
	assert.Contains(t, string(data), "\nunix,20,")

	_, err = os.Stat(sock)
	assert.True(t, os.IsNotExist(err))
}

func TestRunFailures(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "bench.sock")

	_, err := execute(t, "--iterations", "0", "--unix", "unix://"+sock)
	assert.ErrorIs(t, err, bench.ErrEmptySample)

	_, err = execute(t, "--iterations", "1", "--unix", "unix://"+sock, "--tcp", "127.0.0.1:8087")
	assert.ErrorIs(t, err, bench.ErrSetup)
}

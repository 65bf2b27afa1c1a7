package bench

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/rpcxbench/echo"
	"github.com/smallnest/rpcxbench/log"
	"github.com/smallnest/rpcxbench/protocol"
	"github.com/smallnest/rpcxbench/server"
	"github.com/smallnest/rpcxbench/serverplugin"
)

func init() {
	log.SetDummyLogger()
}

type scriptedService struct {
	fail  func(msg string) error
	delay time.Duration
}

func (s *scriptedService) Echo(ctx context.Context, req *echo.EchoRequest, resp *echo.EchoResponse) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail != nil {
		if err := s.fail(req.Message); err != nil {
			return err
		}
	}
	resp.Message = req.Message
	return nil
}

func tcpConfig(iterations int) Config {
	cfg := DefaultConfig("tcp://127.0.0.1:0")
	cfg.Iterations = iterations
	return cfg
}

func unixConfig(t *testing.T, iterations int) (Config, string) {
	path := filepath.Join(t.TempDir(), "bench.sock")
	cfg := DefaultConfig("unix://" + path)
	cfg.Iterations = iterations
	return cfg, path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(DefaultUnixAddress)
	assert.Equal(t, 10, cfg.Warmup)
	assert.Equal(t, 1000, cfg.Iterations)
	assert.Equal(t, protocol.MsgPack, cfg.SerializeType)
	assert.Equal(t, 5*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, protocol.DefaultMaxMessageLength, cfg.MaxMessageLength)
	assert.Equal(t, "unix:///tmp/rpcxbench.sock", cfg.Address)
}

func TestRunTCP(t *testing.T) {
	latencies, err := Run(context.Background(), tcpConfig(100))
	require.NoError(t, err)
	require.Len(t, latencies, 100)
	for _, d := range latencies {
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestRunUnixRemovesSocket(t *testing.T) {
	cfg, path := unixConfig(t, 50)
	// stale artifact of an aborted run
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	latencies, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, latencies, 50)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRunCodecs(t *testing.T) {
	for _, st := range []protocol.SerializeType{protocol.JSON, protocol.MsgPack, protocol.ProtoBuffer} {
		t.Run(st.String(), func(t *testing.T) {
			cfg := tcpConfig(20)
			cfg.SerializeType = st
			cfg.PayloadSize = 512
			latencies, err := Run(context.Background(), cfg)
			require.NoError(t, err)
			assert.Len(t, latencies, 20)
		})
	}
}

func TestRunZeroIterations(t *testing.T) {
	latencies, err := Run(context.Background(), tcpConfig(0))
	require.NoError(t, err)
	assert.Empty(t, latencies)

	_, err = Summarize(latencies)
	assert.ErrorIs(t, err, ErrEmptySample)
}

func TestRunWarmupFailuresIgnored(t *testing.T) {
	cfg := tcpConfig(10)
	cfg.service = &scriptedService{fail: func(msg string) error {
		if msg == "warmup" {
			return errors.New("cold")
		}
		return nil
	}}

	latencies, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, latencies, 10)
}

func TestRunCallFailureAborts(t *testing.T) {
	cfg, path := unixConfig(t, 100)
	cfg.service = &scriptedService{fail: func(msg string) error {
		if msg == "benchmark message 42" {
			return errors.New("boom")
		}
		return nil
	}}

	latencies, err := Run(context.Background(), cfg)
	assert.Nil(t, latencies)
	assert.ErrorIs(t, err, ErrCall)
	assert.Contains(t, err.Error(), "call 42")
	assert.Contains(t, err.Error(), "boom")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRunCallTimeout(t *testing.T) {
	cfg := tcpConfig(1)
	cfg.Warmup = 0
	cfg.CallTimeout = 20 * time.Millisecond
	cfg.service = &scriptedService{delay: 300 * time.Millisecond}

	_, err := Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCall)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunSetupFailures(t *testing.T) {
	_, err := Run(context.Background(), tcpConfig(1).withAddress("127.0.0.1:8087"))
	assert.ErrorIs(t, err, ErrSetup)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Run(context.Background(), tcpConfig(1).withAddress("tcp://"+ln.Addr().String()))
	assert.ErrorIs(t, err, ErrSetup)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg, _ := unixConfig(t, 1)
	_, err = Run(ctx, cfg)
	assert.Error(t, err)
}

func (cfg Config) withAddress(addr string) Config {
	cfg.Address = addr
	return cfg
}

func TestRunConnectionDropped(t *testing.T) {
	plugin := &rejectConns{}
	cfg := tcpConfig(5)
	cfg.ServerPlugins = []server.Plugin{plugin}

	// the server drops the connection, so the first timed call fails
	_, err := Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCall)
}

func TestRunMessageTooLong(t *testing.T) {
	cfg := tcpConfig(5)
	cfg.Warmup = 0
	cfg.PayloadSize = 4096
	cfg.MaxMessageLength = 1024

	_, err := Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCall)
}

type rejectConns struct{}

func (rejectConns) HandleConnAccept(conn net.Conn) (net.Conn, bool) {
	return conn, false
}

func TestRunThrottle(t *testing.T) {
	cfg := tcpConfig(20)
	cfg.Warmup = 0
	cfg.Throttle = 200

	start := time.Now()
	_, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRunServerWorkersAndMetrics(t *testing.T) {
	metrics := serverplugin.NewMetricsPlugin()
	cfg := tcpConfig(30)
	cfg.ServerWorkers = 2
	cfg.ServerPlugins = []server.Plugin{metrics}

	_, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		timer := metrics.CallTime(echo.ServicePath, echo.MethodEcho)
		return timer != nil && timer.Count() == int64(cfg.Warmup+cfg.Iterations)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunRepeatable(t *testing.T) {
	first, err := Run(context.Background(), tcpConfig(200))
	require.NoError(t, err)
	second, err := Run(context.Background(), tcpConfig(200))
	require.NoError(t, err)

	s1, err := Summarize(first)
	require.NoError(t, err)
	s2, err := Summarize(second)
	require.NoError(t, err)

	ratio := float64(s1.Median) / float64(s2.Median)
	assert.Greater(t, ratio, 0.1)
	assert.Less(t, ratio, 10.0)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "benchmark message 7", message(7, 0))
	assert.Equal(t, "benchmark message 7", message(7, 5))

	m := message(7, 100)
	assert.Len(t, m, 100)
	assert.True(t, strings.HasPrefix(m, "benchmark message 7 "))
	assert.NotContains(t, m[20:], " ")
}

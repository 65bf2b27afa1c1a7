package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/rpcxbench/protocol"
)

type countingPlugin struct {
	registered atomic.Int32
	accepted   atomic.Int32
	closed     atomic.Int32
	written    atomic.Int32
	reject     bool
}

func (p *countingPlugin) Register(name string, rcvr any, metadata string) error {
	p.registered.Add(1)
	if name == "bad" {
		return errors.New("rejected")
	}
	return nil
}

func (p *countingPlugin) HandleConnAccept(conn net.Conn) (net.Conn, bool) {
	p.accepted.Add(1)
	return conn, !p.reject
}

func (p *countingPlugin) HandleConnClose(conn net.Conn) bool {
	p.closed.Add(1)
	return true
}

func (p *countingPlugin) PostWriteResponse(ctx context.Context, req, res *protocol.Message, err error) error {
	p.written.Add(1)
	return nil
}

func TestPlugins(t *testing.T) {
	p := &countingPlugin{}
	s := NewServer()
	s.Plugins.Add(p)
	s.Plugins.Add("not a hook")
	assert.Len(t, s.Plugins.All(), 2)

	require.NoError(t, s.RegisterName("Arith", new(Arith), ""))
	assert.ErrorContains(t, s.RegisterName("bad", new(Arith), ""), "rejected")
	assert.Equal(t, int32(2), p.registered.Load())

	serve(t, s, "tcp", "127.0.0.1:0")
	conn := dial(t, s)
	roundTrip(t, conn, newRequest(t, "Mul", &Args{A: 2, B: 2}))
	conn.Close()
	require.NoError(t, s.Close())

	assert.Equal(t, int32(1), p.accepted.Load())
	assert.Equal(t, int32(1), p.closed.Load())
	assert.Eventually(t, func() bool {
		return p.written.Load() == 1
	}, time.Second, 10*time.Millisecond)

	s.Plugins.Remove(p)
	assert.Equal(t, []Plugin{"not a hook"}, s.Plugins.All())
}

// Connections still open when the server closes them must reach the close
// hooks, or connection gauges never go back down.
func TestCloseRunsConnCloseHooks(t *testing.T) {
	p := &countingPlugin{}
	s := NewServer()
	s.Plugins.Add(p)
	require.NoError(t, s.RegisterName("Arith", new(Arith), ""))
	serve(t, s, "tcp", "127.0.0.1:0")

	conns := []net.Conn{dial(t, s), dial(t, s)}
	for _, conn := range conns {
		roundTrip(t, conn, newRequest(t, "Mul", &Args{A: 1, B: 1}))
	}
	require.Equal(t, int32(2), p.accepted.Load())
	require.Equal(t, int32(0), p.closed.Load())

	require.NoError(t, s.Close())
	assert.Equal(t, p.accepted.Load(), p.closed.Load())
	assert.Empty(t, s.ActiveClientConn())

	// and only once, even if Close runs again
	require.NoError(t, s.Close())
	assert.Equal(t, int32(2), p.closed.Load())
}

func TestShutdownRunsConnCloseHooks(t *testing.T) {
	p := &countingPlugin{}
	s := NewServer()
	s.Plugins.Add(p)
	require.NoError(t, s.RegisterName("Arith", new(Arith), ""))
	serve(t, s, "tcp", "127.0.0.1:0")

	roundTrip(t, dial(t, s), newRequest(t, "Mul", &Args{A: 1, B: 1}))
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, int32(1), p.closed.Load())
}

func TestPluginRejectsConn(t *testing.T) {
	p := &countingPlugin{reject: true}
	s := NewServer()
	s.Plugins.Add(p)
	serve(t, s, "tcp", "127.0.0.1:0")
	defer s.Close()

	conn := dial(t, s)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := protocol.ReadMessage(conn)
	assert.Error(t, err)
	assert.Equal(t, int32(0), p.closed.Load())
	assert.Empty(t, s.ActiveClientConn())
}

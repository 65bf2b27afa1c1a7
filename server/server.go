// Package server serves registered services over TCP, unix sockets and
// SO_REUSEPORT listeners using the rpcx frame format.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/rpcxbench/codec"
	"github.com/smallnest/rpcxbench/log"
	"github.com/smallnest/rpcxbench/protocol"
	"github.com/smallnest/rpcxbench/util"
)

// ErrServerClosed is returned by Serve after Close or Shutdown, and sent to
// clients whose requests arrive during Shutdown.
var ErrServerClosed = errors.New("rpcx: server closed")

const readBufferSize = 16 * 1024

type contextKey string

const (
	// RemoteConnContextKey holds the net.Conn a request arrived on.
	RemoteConnContextKey contextKey = "remote-conn"
	// StartRequestContextKey holds the time.Time at which a request was read.
	StartRequestContextKey contextKey = "start-request"
)

// Server accepts connections on one listener and dispatches their requests
// to registered services.
type Server struct {
	readTimeout      time.Duration
	writeTimeout     time.Duration
	keepAlive        time.Duration
	maxMessageLength int
	pool             WorkerPool

	// Plugins hook into registration, connection lifetime and responses.
	Plugins *Plugins

	services registry

	mu      sync.Mutex
	ln      net.Listener
	network string
	conns   map[*conn]struct{}

	closing   atomic.Bool
	inflight  atomic.Int32
	connWG    sync.WaitGroup
	ready     chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
	poolOnce  sync.Once
}

// NewServer returns a server configured by options.
func NewServer(options ...OptionFn) *Server {
	s := &Server{
		Plugins: &Plugins{},
		conns:   make(map[*conn]struct{}),
		ready:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Address returns the bound address, or nil before Serve has bound it.
func (s *Server) Address() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Ready is closed once the listener is bound. It stays open if Serve fails
// to listen.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// ActiveClientConn returns the connections being served.
func (s *Server) ActiveClientConn() []net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c.rwc)
	}
	return conns
}

// Serve listens on network and address and serves until Close or Shutdown,
// when it returns ErrServerClosed. Networks are tcp, tcp4, tcp6, unix and
// reuseport, plus any added with RegisterListenFunc.
func (s *Server) Serve(network, address string) error {
	ln, err := s.listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(network, ln)
}

// ServeListener serves on a listener opened by the caller. network only
// decides whether a socket file is removed on Close.
func (s *Server) ServeListener(network string, ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.ln, s.network = ln, network
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	log.Debugf("rpcx: serving %s on %s", network, ln.Addr())

	var backoff time.Duration
	for {
		rwc, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				log.Warnf("rpcx: accept: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		s.accept(rwc)
	}
}

func (s *Server) accept(rwc net.Conn) {
	if tc, ok := rwc.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		if s.keepAlive > 0 {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(s.keepAlive)
		}
	}

	rwc, ok := s.Plugins.accepted(rwc)
	if !ok {
		rwc.Close()
		return
	}

	c := &conn{
		srv: s,
		rwc: rwc,
		r:   protocol.NewReader(bufio.NewReaderSize(rwc, readBufferSize), s.maxMessageLength),
		w:   protocol.NewWriter(rwc),
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		rwc.Close()
		s.Plugins.closed(rwc)
		return
	}
	s.conns[c] = struct{}{}
	s.connWG.Add(1)
	s.mu.Unlock()

	go c.serve()
}

// untrack runs once per served connection, after its read loop exits.
func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	c.rwc.Close()
	s.Plugins.closed(c.rwc)
}

func (s *Server) dispatch(task func()) {
	if s.pool != nil {
		s.pool.Submit(task)
		return
	}
	go task()
}

// handleRequest decodes req, calls the service and builds the response.
// The error is also recorded in the response.
func (s *Server) handleRequest(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	res := req.Reply()
	fail := func(err error) (*protocol.Message, error) {
		res.SetError(err)
		return res, err
	}

	svc, m, err := s.services.lookup(req.ServicePath, req.ServiceMethod)
	if err != nil {
		return fail(err)
	}
	cdc := codec.For(req.Serialize)
	if cdc == nil {
		return fail(fmt.Errorf("rpcx: no codec for %s", req.Serialize))
	}

	ptr, arg := m.newArg()
	if err := cdc.Decode(req.Payload, ptr.Interface()); err != nil {
		return fail(fmt.Errorf("rpcx: decode %s.%s argument: %w", req.ServicePath, req.ServiceMethod, err))
	}
	reply := m.newReply()
	if err := svc.call(ctx, m, arg, reply); err != nil {
		return fail(err)
	}
	if req.Oneway {
		return res, nil
	}

	if res.Payload, err = cdc.Encode(reply.Interface()); err != nil {
		return fail(fmt.Errorf("rpcx: encode %s.%s reply: %w", req.ServicePath, req.ServiceMethod, err))
	}
	return res, nil
}

// stopAccepting closes the listener once. Connections already accepted stay open.
func (s *Server) stopAccepting() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closing.Store(true)
		ln, network := s.ln, s.network
		s.mu.Unlock()

		if ln == nil {
			return
		}
		s.stopErr = ln.Close()
		if util.IsFileSocket(network) {
			if err := util.RemoveSocket(ln.Addr().String()); err != nil && s.stopErr == nil {
				s.stopErr = err
			}
		}
	})
	return s.stopErr
}

// Close stops the listener and closes every connection without waiting for
// requests in flight. It returns after the close hooks of all connections
// have run. A unix socket file is removed.
func (s *Server) Close() error {
	err := s.stopAccepting()

	s.mu.Lock()
	for c := range s.conns {
		c.rwc.Close()
	}
	s.mu.Unlock()

	// read loops are the only submitters, so the pool can stop once they are gone
	s.connWG.Wait()
	s.poolOnce.Do(func() {
		if s.pool != nil {
			s.pool.Stop()
		}
	})
	return err
}

var shutdownPollInterval = 50 * time.Millisecond

// Shutdown stops accepting, waits for requests in flight to be answered and
// then closes like Close. If ctx ends first the server is closed anyway and
// ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.stopAccepting()

	tick := time.NewTicker(shutdownPollInterval)
	defer tick.Stop()
	for s.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-tick.C:
		}
	}

	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/smallnest/rpcxbench/log"
	"github.com/smallnest/rpcxbench/protocol"
)

// conn is the server side of one client connection. Requests are read in
// order and handled concurrently, so writes are serialized by wmu.
type conn struct {
	srv *Server
	rwc net.Conn
	r   *protocol.Reader

	wmu sync.Mutex
	w   *protocol.Writer
}

func (c *conn) serve() {
	defer c.srv.connWG.Done()
	defer c.srv.untrack(c)
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("rpcx: panic serving %s: %v\n%s", c.rwc.RemoteAddr(), p, debug.Stack())
		}
	}()

	for {
		if d := c.srv.readTimeout; d > 0 {
			c.rwc.SetReadDeadline(time.Now().Add(d))
		}
		req, err := c.r.Read()
		if err != nil {
			c.readFailed(err)
			return
		}

		if req.Heartbeat {
			c.write(req.Reply())
			continue
		}

		if c.srv.closing.Load() {
			if !req.Oneway {
				res := req.Reply()
				res.SetError(ErrServerClosed)
				c.write(res)
			}
			continue
		}

		ctx := context.WithValue(context.Background(), RemoteConnContextKey, c.rwc)
		ctx = context.WithValue(ctx, StartRequestContextKey, time.Now())
		c.srv.inflight.Add(1)
		c.srv.dispatch(func() { c.handle(ctx, req) })
	}
}

func (c *conn) readFailed(err error) {
	addr := c.rwc.RemoteAddr()
	switch {
	case errors.Is(err, io.EOF):
		log.Debugf("rpcx: %s closed the connection", addr)
	case c.srv.closing.Load(), errors.Is(err, net.ErrClosed):
		log.Debugf("rpcx: connection %s closed by the server", addr)
	default:
		log.Warnf("rpcx: read request from %s: %v", addr, err)
	}
}

func (c *conn) handle(ctx context.Context, req *protocol.Message) {
	defer c.srv.inflight.Add(-1)

	res, err := c.srv.handleRequest(ctx, req)
	if err != nil {
		log.Debugf("rpcx: %s.%s failed: %v", req.ServicePath, req.ServiceMethod, err)
	}

	var werr error
	if !req.Oneway {
		werr = c.write(res)
	}
	if err := c.srv.Plugins.responded(ctx, req, res, werr); err != nil {
		log.Warnf("rpcx: response plugin: %v", err)
	}
}

func (c *conn) write(m *protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if d := c.srv.writeTimeout; d > 0 {
		c.rwc.SetWriteDeadline(time.Now().Add(d))
	}
	err := c.w.Write(m)
	if err != nil && !c.srv.closing.Load() {
		log.Warnf("rpcx: write response to %s: %v", c.rwc.RemoteAddr(), err)
	}
	return err
}

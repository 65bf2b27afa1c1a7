package server

import (
	"context"
	"net"
	"slices"
	"sync"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/smallnest/rpcxbench/protocol"
)

// Plugin is any value implementing one or more of the hook interfaces below.
type Plugin any

type (
	// RegisterPlugin sees every service as it is registered. An error fails
	// the registration call but the service stays registered.
	RegisterPlugin interface {
		Register(name string, rcvr any, metadata string) error
	}

	// PostConnAcceptPlugin may wrap an accepted connection, or refuse it by
	// returning false, in which case the connection is closed and later
	// plugins never see it.
	PostConnAcceptPlugin interface {
		HandleConnAccept(net.Conn) (net.Conn, bool)
	}

	// PostConnClosePlugin runs once for every accepted connection when it is
	// closed, whoever closed it.
	PostConnClosePlugin interface {
		HandleConnClose(net.Conn) bool
	}

	// PostWriteResponsePlugin runs after a request was handled and its
	// response, if any, was written. err is the write error.
	PostWriteResponsePlugin interface {
		PostWriteResponse(ctx context.Context, req, res *protocol.Message, err error) error
	}
)

// Plugins is the ordered set of plugins of a server.
type Plugins struct {
	mu   sync.RWMutex
	list []Plugin
}

// Add appends p.
func (ps *Plugins) Add(p Plugin) {
	ps.mu.Lock()
	ps.list = append(ps.list, p)
	ps.mu.Unlock()
}

// Remove drops every occurrence of p.
func (ps *Plugins) Remove(p Plugin) {
	ps.mu.Lock()
	ps.list = slices.DeleteFunc(ps.list, func(q Plugin) bool { return q == p })
	ps.mu.Unlock()
}

// All returns a snapshot of the plugins.
func (ps *Plugins) All() []Plugin {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return slices.Clone(ps.list)
}

// hooks returns the plugins implementing T, in order.
func hooks[T any](ps *Plugins) []T {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var out []T
	for _, p := range ps.list {
		if h, ok := p.(T); ok {
			out = append(out, h)
		}
	}
	return out
}

func (ps *Plugins) registered(name string, rcvr any, metadata string) error {
	var errs *multierror.Error
	for _, h := range hooks[RegisterPlugin](ps) {
		if err := h.Register(name, rcvr, metadata); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (ps *Plugins) accepted(conn net.Conn) (net.Conn, bool) {
	for _, h := range hooks[PostConnAcceptPlugin](ps) {
		var ok bool
		if conn, ok = h.HandleConnAccept(conn); !ok {
			return conn, false
		}
	}
	return conn, true
}

func (ps *Plugins) closed(conn net.Conn) {
	for _, h := range hooks[PostConnClosePlugin](ps) {
		if !h.HandleConnClose(conn) {
			return
		}
	}
}

func (ps *Plugins) responded(ctx context.Context, req, res *protocol.Message, err error) error {
	for _, h := range hooks[PostWriteResponsePlugin](ps) {
		if herr := h.PostWriteResponse(ctx, req, res, err); herr != nil {
			return herr
		}
	}
	return nil
}

package server

import (
	"fmt"
	"net"
	"sync"
)

// ListenFunc opens the listener of one network kind.
type ListenFunc func(s *Server, address string) (net.Listener, error)

var listenFuncs = struct {
	sync.RWMutex
	m map[string]ListenFunc
}{
	m: map[string]ListenFunc{
		"tcp":  listenStream("tcp"),
		"tcp4": listenStream("tcp4"),
		"tcp6": listenStream("tcp6"),
	},
}

// RegisterListenFunc makes Serve accept network, replacing any existing entry.
func RegisterListenFunc(network string, fn ListenFunc) {
	listenFuncs.Lock()
	listenFuncs.m[network] = fn
	listenFuncs.Unlock()
}

func listenStream(network string) ListenFunc {
	return func(_ *Server, address string) (net.Listener, error) {
		return net.Listen(network, address)
	}
}

func (s *Server) listen(network, address string) (net.Listener, error) {
	listenFuncs.RLock()
	fn, ok := listenFuncs.m[network]
	listenFuncs.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rpcx: can't listen on network %q", network)
	}
	return fn(s, address)
}

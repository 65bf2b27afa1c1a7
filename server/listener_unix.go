//go:build !windows

package server

import (
	"fmt"
	"net"

	reuseport "github.com/kavu/go_reuseport"

	"github.com/smallnest/rpcxbench/util"
)

func init() {
	RegisterListenFunc("reuseport", listenReuseport)
	RegisterListenFunc("unix", listenUnix)
}

// listenReuseport binds with SO_REUSEPORT so several servers can share a port.
func listenReuseport(_ *Server, address string) (net.Listener, error) {
	return reuseport.NewReusablePortListener(reuseportNetwork(address), address)
}

// reuseportNetwork picks tcp4 for IPv4 literals and tcp6 otherwise.
func reuseportNetwork(address string) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return "tcp6"
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		return "tcp4"
	}
	return "tcp6"
}

// listenUnix clears a socket file left behind by an earlier run.
func listenUnix(_ *Server, address string) (net.Listener, error) {
	if err := util.RemoveSocket(address); err != nil {
		return nil, fmt.Errorf("rpcx: remove stale socket: %w", err)
	}
	return net.Listen("unix", address)
}

package client

import (
	"fmt"
	"net"
	"time"
)

// DialFunc opens the connection of one network kind.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Dialers maps the networks Dial accepts to their dial functions.
var Dialers = map[string]DialFunc{
	"tcp":  dialStream,
	"tcp4": dialStream,
	"tcp6": dialStream,
	"unix": dialStream,
	// reuseport only changes how the server binds
	"reuseport": func(_, address string, timeout time.Duration) (net.Conn, error) {
		return dialStream("tcp", address, timeout)
	},
}

func dial(network, address string, timeout time.Duration) (net.Conn, error) {
	fn, ok := Dialers[network]
	if !ok {
		return nil, fmt.Errorf("rpcx: can't dial network %q", network)
	}
	conn, err := fn(network, address, timeout)
	if err != nil {
		return nil, fmt.Errorf("rpcx: dial %s %s: %w", network, address, err)
	}
	return conn, nil
}

func dialStream(network, address string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(3 * time.Minute)
	}
	return conn, nil
}

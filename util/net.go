package util

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// GetFreePort gets a free port.
func GetFreePort() (port int, err error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// ParseAddress splits a transport address into network and address.
// Two forms are accepted:
//
//	unix:///tmp/rpcxbench.sock   tcp://127.0.0.1:8087   (URL style)
//	unix@/tmp/rpcxbench.sock     tcp@127.0.0.1:8087     (rpcx style)
func ParseAddress(addr string) (network, address string, err error) {
	if i := strings.Index(addr, "://"); i > 0 {
		network, address = addr[:i], addr[i+3:]
	} else if i := strings.Index(addr, "@"); i > 0 {
		network, address = addr[:i], addr[i+1:]
	} else {
		return "", "", fmt.Errorf("invalid address %q: missing network", addr)
	}

	if address == "" {
		return "", "", fmt.Errorf("invalid address %q: missing location", addr)
	}

	switch network {
	case "unix":
	case "tcp", "tcp4", "tcp6", "reuseport":
		if _, _, err := net.SplitHostPort(address); err != nil {
			return "", "", fmt.Errorf("invalid address %q: %w", addr, err)
		}
	default:
		return "", "", fmt.Errorf("invalid address %q: unsupported network %s", addr, network)
	}

	return network, address, nil
}

// IsFileSocket reports whether the network is addressed by a filesystem path.
func IsFileSocket(network string) bool {
	return network == "unix"
}

// RemoveSocket removes the socket file at path. A missing file is not an error.
func RemoveSocket(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Package bench measures echo round-trip latency over one transport at a time
// and summarizes the samples.
package bench

import (
	"time"

	"github.com/smallnest/rpcxbench/protocol"
	"github.com/smallnest/rpcxbench/server"
)

const (
	// DefaultUnixAddress is the unix socket the benchmark binds by default.
	DefaultUnixAddress = "unix:///tmp/rpcxbench.sock"
	// DefaultTCPAddress is the tcp address the benchmark binds by default.
	DefaultTCPAddress = "tcp://127.0.0.1:8087"

	warmupMessage = "warmup"
)

// Config configures one benchmark run.
type Config struct {
	// Address selects transport and location, e.g. unix:///tmp/x.sock or tcp://127.0.0.1:8087.
	Address string
	// Warmup calls are issued first and their results discarded.
	Warmup int
	// Iterations is the number of timed calls.
	Iterations int

	SerializeType protocol.SerializeType
	// PayloadSize pads each timed message with random letters up to this many bytes.
	PayloadSize int
	// Throttle caps timed calls per second. 0 means unthrottled.
	Throttle float64
	// CallTimeout bounds every call. 0 means calls may block forever.
	CallTimeout time.Duration
	// ReadyTimeout bounds the wait for the server to accept connections.
	ReadyTimeout time.Duration
	// MaxMessageLength caps the frame body either side accepts.
	// 0 means protocol.DefaultMaxMessageLength.
	MaxMessageLength int

	// ServerWorkers > 0 handles requests in a bounded worker pool.
	ServerWorkers int
	// ServerPlugins are added to the echo server before it starts.
	ServerPlugins []server.Plugin

	// service replaces the echo service, tests use it to inject failures.
	service any
}

// DefaultConfig returns the configuration of the classic run: 10 warmup
// calls and 1000 timed calls with msgpack payloads.
func DefaultConfig(address string) Config {
	return Config{
		Address:          address,
		Warmup:           10,
		Iterations:       1000,
		SerializeType:    protocol.MsgPack,
		ReadyTimeout:     5 * time.Second,
		MaxMessageLength: protocol.DefaultMaxMessageLength,
	}
}

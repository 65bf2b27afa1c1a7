package server

import (
	"time"

	"github.com/alitto/pond"
)

// OptionFn configures a Server in NewServer.
type OptionFn func(*Server)

// WithReadTimeout bounds the wait for each request on a connection.
// An idle connection is closed when it expires.
func WithReadTimeout(d time.Duration) OptionFn {
	return func(s *Server) { s.readTimeout = d }
}

// WithWriteTimeout bounds each response write.
func WithWriteTimeout(d time.Duration) OptionFn {
	return func(s *Server) { s.writeTimeout = d }
}

// WithTCPKeepAlivePeriod turns on TCP keepalive for accepted connections.
func WithTCPKeepAlivePeriod(d time.Duration) OptionFn {
	return func(s *Server) { s.keepAlive = d }
}

// WithMaxMessageLength rejects requests whose body is longer than n bytes.
// The connection carrying such a request is closed.
// n <= 0 means protocol.DefaultMaxMessageLength.
func WithMaxMessageLength(n int) OptionFn {
	return func(s *Server) { s.maxMessageLength = n }
}

// WithPool runs handlers on a pond pool of maxWorkers goroutines queueing up
// to maxCapacity tasks, instead of a goroutine per request.
func WithPool(maxWorkers, maxCapacity int, options ...pond.Option) OptionFn {
	return WithCustomPool(pond.New(maxWorkers, maxCapacity, options...))
}

// WithCustomPool runs handlers on pool. The server stops it on Close.
func WithCustomPool(pool WorkerPool) OptionFn {
	return func(s *Server) { s.pool = pool }
}

// WorkerPool runs request handlers. *pond.WorkerPool implements it.
type WorkerPool interface {
	Submit(task func())
	Stop()
}

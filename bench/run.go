package bench

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/ratelimit"
	"github.com/valyala/fastrand"

	"github.com/smallnest/rpcxbench/client"
	"github.com/smallnest/rpcxbench/echo"
	"github.com/smallnest/rpcxbench/log"
	"github.com/smallnest/rpcxbench/server"
	"github.com/smallnest/rpcxbench/util"
)

// serveExitTimeout bounds how long teardown waits for Serve to return.
const serveExitTimeout = time.Second

// Run starts an echo server on cfg.Address, connects one client, issues the
// warmup calls and then cfg.Iterations timed calls one after another.
// It returns the latency of every timed call in call order. Any failure of a
// timed call aborts the run without partial results. The server is closed and
// a unix socket file removed whether the run succeeds or not.
func Run(ctx context.Context, cfg Config) ([]time.Duration, error) {
	network, address, err := util.ParseAddress(cfg.Address)
	if err != nil {
		return nil, &Error{Phase: PhaseSetup, Err: err}
	}

	if util.IsFileSocket(network) {
		if err := util.RemoveSocket(address); err != nil {
			return nil, &Error{Phase: PhaseSetup, Err: err}
		}
	}

	srv, err := newServer(cfg)
	if err != nil {
		return nil, &Error{Phase: PhaseSetup, Err: err}
	}

	var serveErr error
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		serveErr = srv.Serve(network, address)
	}()

	var c *client.Client
	defer func() {
		if err := teardown(c, srv, serveDone, network, address); err != nil {
			log.Warnf("rpcxbench: teardown of %s: %v", cfg.Address, err)
		}
	}()

	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = DefaultConfig("").ReadyTimeout
	}
	timer := time.NewTimer(readyTimeout)
	defer timer.Stop()

	select {
	case <-srv.Ready():
	case <-serveDone:
		return nil, &Error{Phase: PhaseSetup, Err: serveErr}
	case <-timer.C:
		return nil, &Error{Phase: PhaseSetup, Err: fmt.Errorf("server on %s not ready after %v", cfg.Address, readyTimeout)}
	case <-ctx.Done():
		return nil, &Error{Phase: PhaseSetup, Err: ctx.Err()}
	}

	opt := client.DefaultOption
	opt.SerializeType = cfg.SerializeType
	opt.MaxMessageLength = cfg.MaxMessageLength
	if c, err = client.Dial(network, srv.Address().String(), opt); err != nil {
		return nil, &Error{Phase: PhaseConnect, Err: err}
	}

	for i := 0; i < cfg.Warmup; i++ {
		resp := &echo.EchoResponse{}
		if err := call(ctx, c, cfg.CallTimeout, &echo.EchoRequest{Message: warmupMessage}, resp); err != nil {
			log.Debugf("rpcxbench: warmup call %d failed: %v", i, err)
		}
	}

	var bucket *ratelimit.Bucket
	if cfg.Throttle > 0 {
		bucket = ratelimit.NewBucketWithRate(cfg.Throttle, 1)
	}

	latencies := make([]time.Duration, 0, cfg.Iterations)
	for i := 0; i < cfg.Iterations; i++ {
		req := &echo.EchoRequest{Message: message(i, cfg.PayloadSize)}
		resp := &echo.EchoResponse{}

		if bucket != nil {
			bucket.Wait(1)
		}

		start := time.Now()
		err := call(ctx, c, cfg.CallTimeout, req, resp)
		elapsed := time.Since(start)

		if err != nil {
			return nil, &Error{Phase: PhaseCall, Err: fmt.Errorf("call %d: %w", i, err)}
		}
		if resp.Message != req.Message {
			return nil, &Error{Phase: PhaseCall, Err: fmt.Errorf("call %d: echoed %d bytes, sent %d", i, len(resp.Message), len(req.Message))}
		}
		latencies = append(latencies, elapsed)
	}

	return latencies, nil
}

func newServer(cfg Config) (*server.Server, error) {
	opts := []server.OptionFn{server.WithMaxMessageLength(cfg.MaxMessageLength)}
	if cfg.ServerWorkers > 0 {
		opts = append(opts, server.WithPool(cfg.ServerWorkers, cfg.ServerWorkers*16))
	}

	srv := server.NewServer(opts...)
	for _, p := range cfg.ServerPlugins {
		srv.Plugins.Add(p)
	}

	if cfg.service != nil {
		return srv, srv.RegisterName(echo.ServicePath, cfg.service, "")
	}
	return srv, echo.Register(srv)
}

func call(ctx context.Context, c *client.Client, timeout time.Duration, req *echo.EchoRequest, resp *echo.EchoResponse) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Call(ctx, echo.ServicePath, echo.MethodEcho, req, resp)
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// message builds the payload of timed call i, padded to size bytes.
func message(i, size int) string {
	msg := "benchmark message " + strconv.Itoa(i)
	if size <= len(msg) {
		return msg
	}

	b := make([]byte, size)
	n := copy(b, msg)
	b[n] = ' '
	for j := n + 1; j < size; j++ {
		b[j] = letters[fastrand.Uint32n(uint32(len(letters)))]
	}
	return string(b)
}

// teardown closes the client and force-closes the server, then removes the
// socket file of a unix transport.
func teardown(c *client.Client, srv *server.Server, serveDone <-chan struct{}, network, address string) error {
	var result *multierror.Error

	if c != nil {
		if err := c.Close(); err != nil && !errors.Is(err, client.ErrShutdown) {
			result = multierror.Append(result, fmt.Errorf("close client: %w", err))
		}
	}

	if err := srv.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close server: %w", err))
	}

	select {
	case <-serveDone:
	case <-time.After(serveExitTimeout):
		result = multierror.Append(result, errors.New("server did not stop serving"))
	}

	if util.IsFileSocket(network) {
		if err := util.RemoveSocket(address); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove socket: %w", err))
		}
	}

	return result.ErrorOrNil()
}

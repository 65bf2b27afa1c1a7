// Package client calls services exposed by the server package over one
// multiplexed connection.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/smallnest/rpcxbench/codec"
	"github.com/smallnest/rpcxbench/log"
	"github.com/smallnest/rpcxbench/protocol"
)

var (
	// ErrShutdown is the error of calls made after, or interrupted by, Close.
	ErrShutdown = errors.New("rpcx: connection is shut down")
	// ErrUnsupportedCodec is returned when no codec is registered for the
	// serialize type in use.
	ErrUnsupportedCodec = errors.New("rpcx: unsupported codec")
)

// ServiceError is an error returned by the remote service.
type ServiceError string

func (e ServiceError) Error() string { return string(e) }

const readBufferSize = 16 * 1024

// Option configures a client.
type Option struct {
	// ConnectTimeout bounds the dial.
	ConnectTimeout time.Duration
	// WriteTimeout bounds each request write.
	WriteTimeout time.Duration
	// SerializeType selects the codec of arguments and replies.
	SerializeType protocol.SerializeType
	// MaxMessageLength rejects larger responses and drops the connection.
	// Zero means protocol.DefaultMaxMessageLength.
	MaxMessageLength int
}

// DefaultOption dials within ten seconds and encodes with msgpack.
var DefaultOption = Option{
	ConnectTimeout: 10 * time.Second,
	SerializeType:  protocol.MsgPack,
}

// Call is an invocation in progress. Done receives the call once Error and
// Reply are final.
type Call struct {
	ServicePath   string
	ServiceMethod string
	Args          any
	Reply         any
	Error         error
	Done          chan *Call

	seq uint64
}

func (call *Call) finish(err error) {
	call.Error = err
	select {
	case call.Done <- call:
	default:
		log.Debugf("rpcx: Done channel of %s.%s is full, reply dropped", call.ServicePath, call.ServiceMethod)
	}
}

// Client is one connection to a server. Calls from many goroutines share it
// and are matched to responses by sequence number.
type Client struct {
	opt  Option
	conn net.Conn

	wmu sync.Mutex
	w   *protocol.Writer

	seq     atomic.Uint64
	pending *xsync.MapOf[uint64, *Call]

	closing  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
	// err is why the connection ended. It is written before done is closed.
	err error
}

// Dial connects to a server. network is tcp, tcp4, tcp6, unix or reuseport.
func Dial(network, address string, opt Option) (*Client, error) {
	conn, err := dial(network, address, opt.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opt:     opt,
		conn:    conn,
		w:       protocol.NewWriter(conn),
		pending: xsync.NewMapOf[uint64, *Call](),
		done:    make(chan struct{}),
	}
	go c.readLoop(protocol.NewReader(bufio.NewReaderSize(conn, readBufferSize), opt.MaxMessageLength))
	return c, nil
}

// IsClosing reports whether Close has been called.
func (c *Client) IsClosing() bool { return c.closing.Load() }

// IsShutdown reports whether the connection has ended, by Close or by a
// read error.
func (c *Client) IsShutdown() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Go starts a call and returns at once. A nil reply makes the call oneway:
// no response is expected and Done fires after the request is written.
// done must be buffered; nil allocates a new channel.
func (c *Client) Go(servicePath, serviceMethod string, args, reply any, done chan *Call) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	} else if cap(done) == 0 {
		panic("rpcx: Done channel is unbuffered")
	}

	call := &Call{
		ServicePath:   servicePath,
		ServiceMethod: serviceMethod,
		Args:          args,
		Reply:         reply,
		Done:          done,
	}
	c.send(call)
	return call
}

// Call invokes a method and waits for its reply, the end of ctx or the end
// of the connection. A reply arriving after ctx ended is dropped.
func (c *Client) Call(ctx context.Context, servicePath, serviceMethod string, args, reply any) error {
	call := c.Go(servicePath, serviceMethod, args, reply, nil)

	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		c.pending.Delete(call.seq)
		return ctx.Err()
	}
}

func (c *Client) send(call *Call) {
	if c.IsShutdown() {
		call.finish(ErrShutdown)
		return
	}

	cdc := codec.For(c.opt.SerializeType)
	if cdc == nil {
		call.finish(fmt.Errorf("%w: %s", ErrUnsupportedCodec, c.opt.SerializeType))
		return
	}
	payload, err := cdc.Encode(call.Args)
	if err != nil {
		call.finish(fmt.Errorf("rpcx: encode %s.%s argument: %w", call.ServicePath, call.ServiceMethod, err))
		return
	}

	call.seq = c.seq.Add(1)
	req := &protocol.Message{
		Header: protocol.Header{
			Serialize: c.opt.SerializeType,
			Oneway:    call.Reply == nil,
			Seq:       call.seq,
		},
		ServicePath:   call.ServicePath,
		ServiceMethod: call.ServiceMethod,
		Payload:       payload,
	}

	if !req.Oneway {
		c.pending.Store(call.seq, call)
		// readLoop may have drained pending before the store
		if c.IsShutdown() {
			c.complete(call.seq, c.shutdownErr())
			return
		}
	}

	if err := c.write(req); err != nil {
		if req.Oneway {
			call.finish(err)
		} else {
			c.complete(call.seq, err)
		}
		return
	}
	if req.Oneway {
		call.finish(nil)
	}
}

func (c *Client) write(req *protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.opt.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opt.WriteTimeout))
	}
	return c.w.Write(req)
}

// complete finishes the pending call seq, if it is still pending.
func (c *Client) complete(seq uint64, err error) {
	if call, ok := c.pending.LoadAndDelete(seq); ok {
		call.finish(err)
	}
}

func (c *Client) readLoop(r *protocol.Reader) {
	var err error
	for {
		var res *protocol.Message
		if res, err = r.Read(); err != nil {
			break
		}
		call, ok := c.pending.LoadAndDelete(res.Seq)
		if !ok {
			// abandoned by its caller
			continue
		}
		call.finish(c.decode(res, call))
	}

	if c.closing.Load() {
		err = ErrShutdown
	} else {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		log.Warnf("rpcx: connection to %s lost: %v", c.conn.RemoteAddr(), err)
	}
	c.terminate(err)
}

func (c *Client) decode(res *protocol.Message, call *Call) error {
	if res.Status == protocol.Error {
		return ServiceError(res.Metadata[protocol.ServiceError])
	}
	if len(res.Payload) == 0 {
		return nil
	}
	cdc := codec.For(res.Serialize)
	if cdc == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, res.Serialize)
	}
	if err := cdc.Decode(res.Payload, call.Reply); err != nil {
		return fmt.Errorf("rpcx: decode %s.%s reply: %w", call.ServicePath, call.ServiceMethod, err)
	}
	return nil
}

// terminate ends the connection once and fails every pending call with err.
func (c *Client) terminate(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		close(c.done)
		c.conn.Close()
		c.pending.Range(func(seq uint64, _ *Call) bool {
			c.complete(seq, err)
			return true
		})
	})
}

func (c *Client) shutdownErr() error {
	<-c.done
	return c.err
}

// Close closes the connection. Pending calls fail with ErrShutdown.
// Closing twice returns ErrShutdown.
func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return ErrShutdown
	}
	err := c.conn.Close()
	c.terminate(ErrShutdown)
	return err
}

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxMessageLength caps the body of a frame when a Reader is created
// without an explicit limit.
const DefaultMaxMessageLength = 64 << 20

// encode buffers that grew past this are dropped after use
const maxRetainedBuffer = 1 << 20

// Reader reads frames from a stream.
// It is not safe for concurrent use.
type Reader struct {
	r      io.Reader
	maxLen int
	head   [HeaderSize + 4]byte
}

// NewReader returns a Reader rejecting bodies longer than maxLen bytes.
// maxLen <= 0 means DefaultMaxMessageLength.
func NewReader(r io.Reader, maxLen int) *Reader {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	return &Reader{r: r, maxLen: maxLen}
}

// ReadMessage reads one frame from r with the default length limit.
func ReadMessage(r io.Reader) (*Message, error) {
	return NewReader(r, 0).Read()
}

// Read reads the next frame. It returns io.EOF only if the stream ended
// cleanly between frames.
func (r *Reader) Read() (*Message, error) {
	if _, err := io.ReadFull(r.r, r.head[:]); err != nil {
		return nil, err
	}
	h, err := parseHeader(r.head[:HeaderSize])
	if err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(r.head[HeaderSize:])
	if uint64(n) > uint64(r.maxLen) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLong, n, r.maxLen)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	m := &Message{Header: h}
	if err := m.decodeBody(body); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Message) decodeBody(body []byte) error {
	c := cursor(body)

	path, err := c.next()
	if err != nil {
		return err
	}
	method, err := c.next()
	if err != nil {
		return err
	}
	meta, err := c.next()
	if err != nil {
		return err
	}
	payload, err := c.next()
	if err != nil {
		return err
	}

	m.ServicePath = string(path)
	m.ServiceMethod = string(method)
	if len(payload) > 0 {
		m.Payload = payload
	}
	if len(meta) == 0 {
		return nil
	}

	m.Metadata = make(map[string]string)
	kv := cursor(meta)
	for len(kv) > 0 {
		k, err := kv.next()
		if err != nil {
			return ErrMetaKVMissing
		}
		v, err := kv.next()
		if err != nil {
			return ErrMetaKVMissing
		}
		m.Metadata[string(k)] = string(v)
	}
	return nil
}

// cursor walks length prefixed chunks.
type cursor []byte

func (c *cursor) next() ([]byte, error) {
	b := *c
	if len(b) < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return nil, io.ErrUnexpectedEOF
	}
	*c = b[n:]
	return b[:n:n], nil
}

// Writer writes frames to a stream, reusing one encode buffer.
// It is not safe for concurrent use.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes m and writes it with a single call to the underlying writer.
func (w *Writer) Write(m *Message) error {
	w.buf = AppendFrame(w.buf[:0], m)
	_, err := w.w.Write(w.buf)
	if cap(w.buf) > maxRetainedBuffer {
		w.buf = nil
	}
	return err
}

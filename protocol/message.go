package protocol

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
)

const (
	magicNumber byte = 0x08
	// HeaderSize is the fixed size of the frame header.
	HeaderSize = 12
)

// header flag bits, byte 2
const (
	flagResponse  = 1 << 7
	flagHeartbeat = 1 << 6
	flagOneway    = 1 << 5
	statusMask    = 0x03
)

// Header is the fixed part of a frame.
//
//	[0]    magic number
//	[1]    version
//	[2]    response (bit 7) | heartbeat (bit 6) | oneway (bit 5) | status (bits 0-1)
//	[3]    serialize type (high nibble)
//	[4:12] sequence number, big endian
type Header struct {
	Version   byte
	Type      MessageType
	Heartbeat bool
	// Oneway requests get no response.
	Oneway    bool
	Status    MessageStatusType
	Serialize SerializeType
	Seq       uint64
}

func (h *Header) appendTo(b []byte) []byte {
	flags := byte(h.Status) & statusMask
	if h.Type == Response {
		flags |= flagResponse
	}
	if h.Heartbeat {
		flags |= flagHeartbeat
	}
	if h.Oneway {
		flags |= flagOneway
	}
	b = append(b, magicNumber, h.Version, flags, byte(h.Serialize)<<4)
	return binary.BigEndian.AppendUint64(b, h.Seq)
}

func parseHeader(b []byte) (Header, error) {
	if b[0] != magicNumber {
		return Header{}, fmt.Errorf("%w: %#x", ErrBadMagic, b[0])
	}

	flags := b[2]
	h := Header{
		Version:   b[1],
		Heartbeat: flags&flagHeartbeat != 0,
		Oneway:    flags&flagOneway != 0,
		Status:    MessageStatusType(flags & statusMask),
		Serialize: SerializeType(b[3] >> 4),
		Seq:       binary.BigEndian.Uint64(b[4:HeaderSize]),
	}
	if flags&flagResponse != 0 {
		h.Type = Response
	}
	return h, nil
}

// Message is a request or a response.
type Message struct {
	Header
	ServicePath   string
	ServiceMethod string
	Metadata      map[string]string
	Payload       []byte
}

// Reply returns an empty response to m with the same sequence number,
// serialize type and address.
func (m *Message) Reply() *Message {
	res := &Message{
		Header:        m.Header,
		ServicePath:   m.ServicePath,
		ServiceMethod: m.ServiceMethod,
	}
	res.Type = Response
	res.Status = Normal
	return res
}

// SetError marks m as failed and records the error text in its metadata.
func (m *Message) SetError(err error) {
	m.Status = Error
	if m.Metadata == nil {
		m.Metadata = make(map[string]string, 1)
	}
	m.Metadata[ServiceError] = err.Error()
}

// Encode returns the wire form of m.
func (m *Message) Encode() []byte {
	return AppendFrame(nil, m)
}

// AppendFrame appends the wire form of m to b. After the header every field is
// length prefixed with a big endian uint32:
//
//	body length | path | method | metadata (key, value pairs) | payload
//
// Metadata keys are written in sorted order.
func AppendFrame(b []byte, m *Message) []byte {
	b = m.Header.appendTo(b)

	bodyAt := len(b)
	b = append(b, 0, 0, 0, 0)
	b = appendChunk(b, m.ServicePath)
	b = appendChunk(b, m.ServiceMethod)

	metaAt := len(b)
	b = append(b, 0, 0, 0, 0)
	for _, k := range slices.Sorted(maps.Keys(m.Metadata)) {
		b = appendChunk(b, k)
		b = appendChunk(b, m.Metadata[k])
	}
	binary.BigEndian.PutUint32(b[metaAt:], uint32(len(b)-metaAt-4))

	b = binary.BigEndian.AppendUint32(b, uint32(len(m.Payload)))
	b = append(b, m.Payload...)

	binary.BigEndian.PutUint32(b[bodyAt:], uint32(len(b)-bodyAt-4))
	return b
}

func appendChunk(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic is returned when a frame does not start with the magic number.
	ErrBadMagic = errors.New("bad magic number")
	// ErrMessageTooLong is returned for a frame whose body exceeds the reader's limit.
	ErrMessageTooLong = errors.New("message is too long")
	// ErrMetaKVMissing is returned when a metadata key has no value.
	ErrMetaKVMissing = errors.New("wrong metadata lines. some keys or values are missing")
)

// ServiceError is the metadata key carrying the error text of a failed call.
const ServiceError = "__rpcx_error__"

// MessageType tells requests from responses.
type MessageType byte

const (
	Request MessageType = iota
	Response
)

// MessageStatusType is the outcome carried by a response.
type MessageStatusType byte

const (
	Normal MessageStatusType = iota
	Error
)

// SerializeType selects the payload codec.
type SerializeType byte

const (
	SerializeNone SerializeType = iota
	JSON
	ProtoBuffer
	MsgPack
)

var serializeNames = map[SerializeType]string{
	SerializeNone: "raw",
	JSON:          "json",
	ProtoBuffer:   "protobuf",
	MsgPack:       "msgpack",
}

func (st SerializeType) String() string {
	if name, ok := serializeNames[st]; ok {
		return name
	}
	return fmt.Sprintf("serialize(%d)", byte(st))
}

// ParseSerializeType maps a codec name to its SerializeType.
//
// Only raw and msgpack carry arbitrary bytes in strings. JSON replaces
// invalid UTF-8 with U+FFFD, so string fields survive a JSON round trip
// only when they hold valid UTF-8.
func ParseSerializeType(name string) (SerializeType, error) {
	switch name {
	case "none":
		return SerializeNone, nil
	case "pb", "proto":
		return ProtoBuffer, nil
	}
	for st, n := range serializeNames {
		if n == name {
			return st, nil
		}
	}
	return SerializeNone, fmt.Errorf("unknown codec %q", name)
}

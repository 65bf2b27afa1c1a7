// Package codec turns call arguments and replies into payload bytes.
// Every protocol.SerializeType the benchmark can select has a codec
// registered here.
package codec

import (
	"encoding/json"
	"fmt"
	"sync"

	gogoproto "github.com/gogo/protobuf/proto"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"

	"github.com/smallnest/rpcxbench/protocol"
)

// Codec encodes a value into a payload and decodes a payload into a pointer.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

var registry = struct {
	sync.RWMutex
	m map[protocol.SerializeType]Codec
}{
	m: map[protocol.SerializeType]Codec{
		protocol.SerializeNone: Raw{},
		protocol.JSON:          JSON{},
		protocol.ProtoBuffer:   Protobuf{},
		protocol.MsgPack:       Msgpack{},
	},
}

// Register installs c for t, replacing any codec already there.
func Register(t protocol.SerializeType, c Codec) {
	registry.Lock()
	registry.m[t] = c
	registry.Unlock()
}

// For returns the codec of t, or nil when none is registered.
func For(t protocol.SerializeType) Codec {
	registry.RLock()
	defer registry.RUnlock()
	return registry.m[t]
}

// Raw sends byte slices as they are.
type Raw struct{}

func (Raw) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, fmt.Errorf("codec: raw payload needs []byte, got %T", v)
}

func (Raw) Decode(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("codec: raw payload decodes into *[]byte, got %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

// JSON uses encoding/json.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSON) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

// Protobuf accepts gogo generated messages as well as proto.Message values.
// Gogo types are tried first since they marshal without reflection.
type Protobuf struct{}

func (Protobuf) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case gogoproto.Marshaler:
		return m.Marshal()
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("codec: %T is not a protobuf message", v)
}

func (Protobuf) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case gogoproto.Unmarshaler:
		return m.Unmarshal(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("codec: %T is not a protobuf message", v)
}

// Msgpack uses vmihailenco/msgpack.
type Msgpack struct{}

func (Msgpack) Encode(v any) ([]byte, error)    { return msgpack.Marshal(v) }
func (Msgpack) Decode(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

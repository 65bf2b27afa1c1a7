// Package echo is the service the benchmark times: it returns every message unchanged.
package echo

import (
	"context"

	pb "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/smallnest/rpcxbench/server"
)

const (
	// ServicePath is the name the service is registered under.
	ServicePath = "Echo"
	// MethodEcho is the only method of the service.
	MethodEcho = "Echo"
)

// EchoRequest carries the message to echo.
type EchoRequest struct {
	Message string `json:"message" msgpack:"message"`
}

// EchoResponse carries the echoed message.
type EchoResponse struct {
	Message string `json:"message" msgpack:"message"`
}

// Marshal encodes the request as a protobuf message with the text in field 1.
func (r *EchoRequest) Marshal() ([]byte, error) {
	return marshalMessage(r.Message)
}

// Unmarshal decodes a protobuf encoded request.
func (r *EchoRequest) Unmarshal(data []byte) (err error) {
	r.Message, err = unmarshalMessage(data)
	return err
}

// Marshal encodes the response as a protobuf message with the text in field 1.
func (r *EchoResponse) Marshal() ([]byte, error) {
	return marshalMessage(r.Message)
}

// Unmarshal decodes a protobuf encoded response.
func (r *EchoResponse) Unmarshal(data []byte) (err error) {
	r.Message, err = unmarshalMessage(data)
	return err
}

// google.protobuf.BytesValue has the same wire layout as a message with a
// single string field numbered 1, but skips UTF-8 validation so any message
// bytes survive the round trip.
func marshalMessage(s string) ([]byte, error) {
	return pb.Marshal(wrapperspb.Bytes([]byte(s)))
}

func unmarshalMessage(data []byte) (string, error) {
	var v wrapperspb.BytesValue
	if err := pb.Unmarshal(data, &v); err != nil {
		return "", err
	}
	return string(v.GetValue()), nil
}

// Service echoes requests.
type Service struct{}

// Echo sets the response message to the request message.
func (s *Service) Echo(ctx context.Context, req *EchoRequest, resp *EchoResponse) error {
	resp.Message = req.Message
	return nil
}

// Register registers a Service on srv under ServicePath.
func Register(srv *server.Server) error {
	return srv.RegisterName(ServicePath, new(Service), "")
}

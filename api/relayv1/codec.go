package relayv1

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype every relay.v1 call uses
const CodecName = "json"

type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (codec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (codec) Name() string                               { return CodecName }

func init() {
	encoding.RegisterCodec(codec{})
}

// CallOptions returns the call options relay.v1 clients need
func CallOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append(CallOptions(), opts...)
}

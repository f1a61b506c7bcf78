// Package transport wires raft.Node to the network over gRPC, without
// relying on protoc-generated message types: every RPC reaches this
// package as already-encoded bytes plus its signature, which Send
// wraps with raft.EncodeEnvelope, so gRPC only has to move opaque byte
// frames.
package transport

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "bftraft-frame"

// frame is the only message type that ever crosses the wire: a raw
// byte slice. frameCodec bypasses protobuf marshaling entirely so the
// module never needs generated .pb.go code.
type frame struct {
	data []byte
}

// frameCodec implements encoding.Codec by treating Marshal/Unmarshal
// as pure byte-slice passthrough.
type frameCodec struct{}

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("transport: frameCodec.Marshal: unexpected type %T", v)
	}
	return f.data, nil
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("transport: frameCodec.Unmarshal: unexpected type %T", v)
	}
	f.data = append([]byte(nil), data...)
	return nil
}

func (frameCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(frameCodec{})
}

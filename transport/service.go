package transport

import "google.golang.org/grpc"

const (
	serviceName  = "bftraft.Transport"
	streamMethod = "Stream"
)

// fullStreamMethod is the method path cc.NewStream dials, matching
// what grpc.Server routes through ServiceDesc below.
const fullStreamMethod = "/" + serviceName + "/" + streamMethod

// streamServer is implemented by whatever accepts inbound frame
// streams; GRPCTransport is the only implementation.
type streamServer interface {
	handleStream(grpc.ServerStream) error
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(streamServer).handleStream(stream)
}

// serviceDesc is hand-written in place of protoc-gen-go-grpc output:
// one bidirectional streaming method, no unary methods.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*streamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamMethod,
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// clientStreamDesc is the matching descriptor cc.NewStream needs on
// the dialing side.
var clientStreamDesc = &grpc.StreamDesc{
	StreamName:    streamMethod,
	ServerStreams: true,
	ClientStreams: true,
}

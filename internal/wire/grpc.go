package wire

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC names of the session service.
const (
	ServiceName  = "arena.v1.Session"
	StreamMethod = "/arena.v1.Session/Stream"
)

// SessionServer is implemented by the server side of the session stream.
type SessionServer interface {
	// Stream serves one client connection until it ends.
	Stream(stream Stream) error
}

// Stream is a bidirectional envelope stream. Both the gRPC and WebSocket
// transports provide one.
type Stream interface {
	Send(env *structpb.Struct) error
	Recv() (*structpb.Struct, error)
	Context() context.Context
}

// ServiceDesc describes the session service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "arena/v1/session.proto",
}

// RegisterSessionServer registers srv on s.
func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SessionServer).Stream(&grpcStream{stream: stream})
}

// msgStream is the subset shared by grpc.ServerStream and grpc.ClientStream.
type msgStream interface {
	Context() context.Context
	SendMsg(m any) error
	RecvMsg(m any) error
}

type grpcStream struct {
	stream msgStream
}

func (s *grpcStream) Send(env *structpb.Struct) error {
	return s.stream.SendMsg(env)
}

func (s *grpcStream) Recv() (*structpb.Struct, error) {
	env := &structpb.Struct{}
	if err := s.stream.RecvMsg(env); err != nil {
		return nil, err
	}
	return env, nil
}

func (s *grpcStream) Context() context.Context {
	return s.stream.Context()
}

// ClientStream is the client end of a gRPC session stream.
type ClientStream struct {
	grpcStream
	client grpc.ClientStream
}

// OpenStream starts the session stream on cc.
//
// Precondition: cc must be a usable client connection.
// Postcondition: Returns an open ClientStream or a non-nil error.
func OpenStream(ctx context.Context, cc grpc.ClientConnInterface) (*ClientStream, error) {
	cs, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamMethod)
	if err != nil {
		return nil, fmt.Errorf("opening session stream: %w", err)
	}
	return &ClientStream{grpcStream: grpcStream{stream: cs}, client: cs}, nil
}

// CloseSend half-closes the stream.
func (s *ClientStream) CloseSend() error {
	return s.client.CloseSend()
}

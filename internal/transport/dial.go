package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cory-johannsen/arena/internal/wire"
)

// Stream is an open session stream owned by the Client.
type Stream interface {
	wire.Stream
	Close() error
}

// Target is a connect address plus the transport-specific request path.
type Target struct {
	Host string
	Port int
	Path string
}

// Addr returns "host:port".
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Dialer opens session streams.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Stream, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context, target Target) (Stream, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, target Target) (Stream, error) {
	return f(ctx, target)
}

// ErrUnreachable is returned when the server cannot be reached before the dial deadline.
var ErrUnreachable = errors.New("server unreachable")

// GRPCDialer returns a Dialer that opens the session stream over gRPC.
// Extra options are appended after insecure transport credentials.
func GRPCDialer(opts ...grpc.DialOption) Dialer {
	return DialerFunc(func(ctx context.Context, target Target) (Stream, error) {
		dialOpts := append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}, opts...)
		cc, err := grpc.NewClient(target.Addr(), dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating grpc client for %s: %w", target.Addr(), err)
		}

		if err := waitReady(ctx, cc); err != nil {
			_ = cc.Close()
			return nil, fmt.Errorf("connecting to %s: %w", target.Addr(), err)
		}

		streamCtx, cancel := context.WithCancel(context.Background())
		cs, err := wire.OpenStream(streamCtx, cc)
		if err != nil {
			cancel()
			_ = cc.Close()
			return nil, err
		}
		return &grpcClientStream{ClientStream: cs, cc: cc, cancel: cancel}, nil
	})
}

// waitReady blocks until cc is ready, fails, or ctx ends.
func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("%w: channel %s", ErrUnreachable, state)
		}
		if !cc.WaitForStateChange(ctx, state) {
			return fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())
		}
	}
}

type grpcClientStream struct {
	*wire.ClientStream
	cc     *grpc.ClientConn
	cancel context.CancelFunc
}

func (s *grpcClientStream) Close() error {
	_ = s.CloseSend()
	s.cancel()
	return s.cc.Close()
}

// WebSocketDialer returns a Dialer that opens the session over a WebSocket at
// ws://host:port/path. An empty path uses DefaultWebSocketPath.
func WebSocketDialer(writeTimeout time.Duration) Dialer {
	return DialerFunc(func(ctx context.Context, target Target) (Stream, error) {
		path := target.Path
		if path == "" {
			path = DefaultWebSocketPath
		}
		u := url.URL{Scheme: "ws", Host: target.Addr(), Path: path}

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: dialing %s: %v", ErrUnreachable, u.String(), err)
		}
		return wire.NewWSStream(context.Background(), conn, writeTimeout), nil
	})
}

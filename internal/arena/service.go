package arena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cory-johannsen/arena/internal/wire"
)

// Service serves session streams against a Zone. It implements
// wire.SessionServer and backs the WebSocket handler.
type Service struct {
	zone       *Zone
	outboxSize int
	logger     *zap.Logger

	wsMu      sync.Mutex
	wsStreams map[*wire.WSStream]struct{}
	wsClosed  bool
}

var _ wire.SessionServer = (*Service)(nil)

// NewService creates a Service.
//
// Precondition: zone and logger must be non-nil.
func NewService(zone *Zone, outboxSize int, logger *zap.Logger) *Service {
	return &Service{zone: zone, outboxSize: outboxSize, logger: logger}
}

// Zone returns the served zone.
func (s *Service) Zone() *Zone { return s.zone }

// Stream implements wire.SessionServer.
func (s *Service) Stream(stream wire.Stream) error {
	return s.Serve(stream)
}

// Serve runs one connection: a receive goroutine applies frames from stream
// to the zone while Serve sends the frames queued for the peer. Serve returns
// when either direction ends or the peer's outbox overflows.
//
// Postcondition: the peer is logged out. A clean close returns nil; an
// overflow returns an error wrapping ErrOutboxFull. The receive goroutine
// exits once the caller closes stream or the stream ends.
func (s *Service) Serve(stream wire.Stream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	peer := NewPeer(s.outboxSize)
	logger := s.logger.With(zap.Stringer("peer", peer.ID))
	logger.Info("connection opened")

	recvErr := make(chan error, 1)
	go func() {
		defer cancel()
		recvErr <- s.receiveFrames(ctx, peer, stream, logger)
	}()

	s.forwardFrames(ctx, peer.Outbox(), stream, logger)
	s.zone.Disconnect(peer)
	peer.Outbox().Close()
	cancel()

	if peer.Outbox().Overflowed() {
		logger.Warn("connection dropped, outbox overflowed")
		return fmt.Errorf("peer %s: %w", peer.ID, ErrOutboxFull)
	}
	logger.Info("connection closed")
	select {
	case err := <-recvErr:
		return err
	default:
		return nil
	}
}

// receiveFrames applies frames from stream to the zone until the stream ends.
func (s *Service) receiveFrames(ctx context.Context, peer *Peer, stream wire.Stream, logger *zap.Logger) error {
	for {
		env, err := stream.Recv()
		if err != nil {
			if isClosed(err) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving frame: %w", err)
		}
		frame, err := wire.Decode(env)
		if err != nil {
			logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		s.zone.Handle(peer, frame)
	}
}

// forwardFrames sends queued frames until the outbox closes or overflows,
// ctx ends, or a send fails.
func (s *Service) forwardFrames(ctx context.Context, outbox *Outbox, stream wire.Stream, logger *zap.Logger) {
	for {
		f, ok := outbox.Next(ctx)
		if !ok {
			return
		}
		env, err := wire.Encode(f.Req, f.Msg)
		if err != nil {
			logger.Error("encoding frame", zap.String("kind", f.Msg.Kind()), zap.Error(err))
			continue
		}
		if err := stream.Send(env); err != nil {
			logger.Debug("sending frame", zap.Error(err))
			return
		}
	}
}

func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	switch status.Code(err) {
	case codes.Canceled, codes.Unavailable:
		return true
	}
	return false
}

package wire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/structpb"
)

// WSStream carries envelopes as protojson text frames over a WebSocket.
// Send is safe for concurrent use; Recv must be called from one goroutine.
type WSStream struct {
	conn         *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// NewWSStream wraps an established WebSocket connection.
//
// Precondition: conn must be open.
// Postcondition: Returns a stream whose Context is cancelled by Close.
func NewWSStream(parent context.Context, conn *websocket.Conn, writeTimeout time.Duration) *WSStream {
	ctx, cancel := context.WithCancel(parent)
	return &WSStream{conn: conn, ctx: ctx, cancel: cancel, writeTimeout: writeTimeout}
}

// Send writes one envelope as a text frame.
func (s *WSStream) Send(env *structpb.Struct) error {
	data, err := MarshalText(env)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Recv reads the next envelope, skipping non-text frames.
func (s *WSStream) Recv() (*structpb.Struct, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return UnmarshalText(data)
	}
}

// Context is cancelled when the stream is closed.
func (s *WSStream) Context() context.Context {
	return s.ctx
}

// Close sends a close frame and closes the connection. Close is idempotent.
func (s *WSStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

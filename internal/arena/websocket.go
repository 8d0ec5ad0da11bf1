package arena

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/wire"
)

// DefaultWriteTimeout bounds each WebSocket frame write.
const DefaultWriteTimeout = 5 * time.Second

// WebSocketHandler upgrades requests and serves each connection as a session
// stream carrying protojson text frames.
func (s *Service) WebSocketHandler(writeTimeout time.Duration) http.Handler {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Development server: any origin may connect.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed",
				zap.String("remote", r.RemoteAddr),
				zap.Error(err),
			)
			return
		}
		stream := wire.NewWSStream(r.Context(), conn, writeTimeout)
		defer stream.Close()
		if !s.trackWebSocket(stream) {
			return
		}
		defer s.untrackWebSocket(stream)
		if err := s.Serve(stream); err != nil {
			s.logger.Debug("websocket session ended", zap.String("remote", r.RemoteAddr), zap.Error(err))
		}
	})
}

func (s *Service) trackWebSocket(stream *wire.WSStream) bool {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.wsClosed {
		return false
	}
	if s.wsStreams == nil {
		s.wsStreams = make(map[*wire.WSStream]struct{})
	}
	s.wsStreams[stream] = struct{}{}
	return true
}

func (s *Service) untrackWebSocket(stream *wire.WSStream) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	delete(s.wsStreams, stream)
}

// CloseWebSockets closes every open WebSocket session and refuses new ones.
// http.Server.Shutdown does not reach upgraded connections.
//
// Postcondition: every session served by WebSocketHandler has been sent a
// close frame; later upgrades are closed immediately.
func (s *Service) CloseWebSockets() {
	s.wsMu.Lock()
	s.wsClosed = true
	streams := make([]*wire.WSStream, 0, len(s.wsStreams))
	for st := range s.wsStreams {
		streams = append(streams, st)
	}
	s.wsMu.Unlock()

	for _, st := range streams {
		_ = st.Close()
	}
	if len(streams) > 0 {
		s.logger.Info("closed websocket sessions", zap.Int("count", len(streams)))
	}
}

package arena

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/scripting"
	"github.com/cory-johannsen/arena/internal/transport"
	"github.com/cory-johannsen/arena/internal/wire"
)

// Server owns the zone and its gRPC and WebSocket endpoints.
type Server struct {
	cfg     config.ServerConfig
	logger  *zap.Logger
	exts    *scripting.Manager
	service *Service
	grpc    *grpc.Server
	http    *http.Server
}

// NewServer builds the zone, extension manager and both endpoints from cfg.
//
// Precondition: cfg must be valid; logger must be non-nil.
// Postcondition: nothing is listening until ServeGRPC or ServeWebSocket.
func NewServer(cfg config.ServerConfig, logger *zap.Logger) *Server {
	exts := scripting.NewManager(cfg.ExtensionsDir, cfg.ScriptInstructionLimit, logger.Named("scripting"))
	zone := NewZone(ZoneOptions{
		Name:       cfg.Zone,
		Accounts:   NewAccounts(cfg.Accounts, cfg.AllowGuests),
		Extensions: exts,
		Logger:     logger.Named("zone"),
	})
	svc := NewService(zone, cfg.OutboxSize, logger.Named("session"))

	grpcServer := grpc.NewServer()
	wire.RegisterSessionServer(grpcServer, svc)

	mux := http.NewServeMux()
	mux.Handle(transport.DefaultWebSocketPath, svc.WebSocketHandler(DefaultWriteTimeout))

	return &Server{
		cfg:     cfg,
		logger:  logger,
		exts:    exts,
		service: svc,
		grpc:    grpcServer,
		http: &http.Server{
			Addr:              cfg.WSAddr(),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Service returns the session service.
func (s *Server) Service() *Service { return s.service }

// ServeGRPC listens on the configured gRPC address and serves until StopGRPC.
func (s *Server) ServeGRPC() error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.GRPCAddr(), err)
	}
	s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	return s.ServeGRPCListener(lis)
}

// ServeGRPCListener serves the session service on lis until StopGRPC.
func (s *Server) ServeGRPCListener(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// StopGRPC stops the gRPC endpoint, closing open streams.
func (s *Server) StopGRPC() {
	s.grpc.Stop()
}

// ServeWebSocket listens on the configured WebSocket address and serves until
// StopWebSocket.
func (s *Server) ServeWebSocket() error {
	s.logger.Info("websocket server listening",
		zap.String("addr", s.http.Addr),
		zap.String("path", transport.DefaultWebSocketPath),
	)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket on %s: %w", s.http.Addr, err)
	}
	return nil
}

// StopWebSocket closes open WebSocket sessions and shuts the endpoint down.
func (s *Server) StopWebSocket() {
	s.service.CloseWebSockets()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("websocket shutdown", zap.Error(err))
	}
}

// Close releases the loaded room extensions.
func (s *Server) Close() {
	s.exts.Close()
}

// Package main is the development arena server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/arena"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	extensionsDir := flag.String("extensions", "", "directory of Lua room extensions; overrides server.extensions_dir")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for an account entry and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := arena.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("hashing password: %v", err)
		}
		fmt.Fprintln(os.Stdout, hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *extensionsDir != "" {
		cfg.Server.ExtensionsDir = *extensionsDir
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	srv := arena.NewServer(cfg.Server, logger)
	defer srv.Close()

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("grpc", &server.FuncService{
		StartFn: func(context.Context) error { return srv.ServeGRPC() },
		StopFn:  srv.StopGRPC,
	})
	if cfg.Server.WSPort != 0 {
		lifecycle.Add("websocket", &server.FuncService{
			StartFn: func(context.Context) error { return srv.ServeWebSocket() },
			StopFn:  srv.StopWebSocket,
		})
	}

	logger.Info("arena server initialized",
		zap.String("zone", cfg.Server.Zone),
		zap.String("grpc_addr", cfg.Server.GRPCAddr()),
		zap.Int("ws_port", cfg.Server.WSPort),
		zap.Bool("allow_guests", cfg.Server.AllowGuests),
		zap.Int("accounts", len(cfg.Server.Accounts)),
		zap.String("extensions_dir", cfg.Server.ExtensionsDir),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

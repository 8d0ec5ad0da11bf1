// Package main is the headless arena client: it connects, joins the arena
// room and mirrors the other players until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/client"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/server"
	"github.com/cory-johannsen/arena/internal/transport"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	username := flag.String("username", "", "login name; overrides client.username")
	wander := flag.Bool("wander", false, "move the local player around the map")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *username != "" {
		cfg.Client.Username = *username
	}
	if *wander {
		cfg.Client.Wander = true
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	t := transport.NewClient(transport.Options{
		Transport:   cfg.Client.Transport,
		DialTimeout: cfg.Client.DialTimeout,
		Logger:      observability.Component(logger, "transport"),
	})
	app := client.New(t, cfg.Client, client.Options{
		Logger:   logger,
		Prompter: client.NewLinePrompter(os.Stdin, os.Stdout),
		Seed:     uint64(time.Now().UnixNano()),
	})

	logger.Info("arena client initialized",
		zap.String("username", cfg.Client.Username),
		zap.String("addr", cfg.Client.Addr()),
		zap.String("transport", cfg.Client.Transport),
		zap.Bool("config_source", cfg.Client.UseConfigFile),
		zap.Duration("startup", time.Since(start)),
	)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("client", &server.FuncService{
		StartFn: app.Run,
	})

	if err := lifecycle.Run(context.Background()); err != nil {
		if errors.Is(err, client.ErrRetryDeclined) {
			logger.Info("retry declined, exiting")
			return
		}
		logger.Fatal("client error", zap.Error(err))
	}
}

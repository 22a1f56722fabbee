package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/app"
	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/obslog"
)

// shutdownGrace bounds how long a signal waits for the game loop to wind
// down before resources are torn out from under it.
const shutdownGrace = 10 * time.Second

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("env error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	logger := obslog.L()

	cfg, err := config.New(env.ConfigPath, logger)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go cfg.Watch(ctx, config.DefaultWatchInterval)

	deps, err := app.New(ctx, env, cfg, logger)
	if err != nil {
		cancel()
		log.Fatalf("init error: %v", err)
	}

	logger.Info("autopilot_started",
		zap.String("game_url", env.GameURL),
		zap.Bool("headless", env.Headless))

	runErr := make(chan error, 1)
	go func() { runErr <- deps.Manager.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal", zap.String("signal", sig.String()))
		cancel()
		select {
		case <-runErr:
		case <-time.After(shutdownGrace):
			logger.Warn("shutdown_grace_exceeded")
		}
	case err := <-runErr:
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("manager_stopped", zap.Error(err))
			exit = 1
		}
	}

	deps.Close()
	obslog.Sync()
	os.Exit(exit)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/app"
	"github.com/markdave123-py/Lumina/internal/config"
	"github.com/markdave123-py/Lumina/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lumina: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// SIGINT/SIGTERM cancel ctx; workers park in-flight documents in RETRY_SCHEDULED.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer application.Close()

	logger.Info("Lumina is running",
		zap.String("port", cfg.Port),
		zap.String("index_backend", cfg.IndexBackend),
		zap.Int("workers", cfg.Workers),
		zap.Int("slices", len(cfg.Slices)),
		zap.Bool("nats", cfg.NatsURL != ""),
	)
	err = application.Start(ctx)
	logger.Info("shutting down...")
	return err
}

// Command worker runs a headless worker pool against the configured store
// until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"

	"queuectl/internal/app"
	"queuectl/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Store == config.StoreMemory {
		return fmt.Errorf("a standalone worker needs a shared store, got %q", cfg.Store)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Pool.Start(cfg.Workers); err != nil {
		return err
	}
	logger.Info("worker started, polling for jobs", "workers", cfg.Workers, "db", cfg.DBPath())

	<-ctx.Done()
	logger.Info("shutting down worker")
	a.Pool.Stop()
	logger.Info("worker stopped")
	return nil
}

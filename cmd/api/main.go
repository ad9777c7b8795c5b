// Command api serves the queue over HTTP and runs a worker pool in the same
// process. Configuration comes from QUEUECTL_* environment variables and the
// settings file in the data directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	"golang.org/x/sync/errgroup"

	"queuectl/internal/app"
	"queuectl/internal/config"
	"queuectl/internal/handler"
	"queuectl/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	rateLimiter := service.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	a, err := app.New(cfg, logger, rateLimiter)
	if err != nil {
		return err
	}
	defer a.Close()

	h := handler.NewJobHandler(a.Jobs, a.Pool, a.Metrics, cfg.Workers, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Pool.Start(cfg.Workers); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api server starting", "addr", cfg.ListenAddr, "workers", cfg.Workers, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", "error", err)
		}

		a.Pool.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("api stopped")
	return nil
}

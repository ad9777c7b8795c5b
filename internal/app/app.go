// Package app wires the store, services and worker pool from a Config.
// The binaries under cmd/ share it so every entry point runs the same stack.
package app

import (
	"fmt"
	"log/slog"

	"queuectl/internal/backoff"
	"queuectl/internal/config"
	"queuectl/internal/metrics"
	"queuectl/internal/repository"
	"queuectl/internal/runner"
	"queuectl/internal/service"
)

// App holds the wired components of one queuectl process
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Repo    repository.JobRepository
	Metrics *metrics.Metrics
	Jobs    *service.JobService
	Worker  *service.WorkerService
	Pool    *service.WorkerPool
}

// New opens the configured store and builds the services on top of it.
// rateLimiter may be nil to disable submission limiting.
func New(cfg *config.Config, logger *slog.Logger, rateLimiter *service.RateLimiter) (*App, error) {
	repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()
	worker := service.NewWorkerService(repo, runner.NewShellRunner(logger), m,
		service.WithBackoff(backoff.NewExponential(cfg.BackoffUnit)),
		service.WithLogger(logger),
	)
	pool := service.NewWorkerPool(repo, worker, m,
		service.WithPollInterval(cfg.PollInterval),
		service.WithPoolLogger(logger),
	)
	jobs := service.NewJobService(repo, rateLimiter, m,
		service.WithDefaultMaxRetries(cfg.MaxRetries),
		service.WithServiceLogger(logger),
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Repo:    repo,
		Metrics: m,
		Jobs:    jobs,
		Worker:  worker,
		Pool:    pool,
	}, nil
}

// Close stops the pool if it is running and closes the store
func (a *App) Close() error {
	a.Pool.Stop()
	return a.Repo.Close()
}

func openRepository(cfg *config.Config) (repository.JobRepository, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return repository.NewMemoryRepository(), nil
	case config.StoreSQLite:
		if err := cfg.EnsureDataDir(); err != nil {
			return nil, err
		}
		repo, err := repository.NewSQLiteRepository(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize repository: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

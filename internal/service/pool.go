package service

import (
	"context"
	"errors"
	"log/slog"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultPollInterval is how long an idle worker sleeps between claims
const DefaultPollInterval = 500 * time.Millisecond

// ErrInvalidWorkerCount is returned by Start for a non-positive worker count
var ErrInvalidWorkerCount = errors.New("worker count must be at least 1")

// WorkerPool runs a set of polling goroutines. Each claims one job at a time
// and drives it to a terminal outcome through the WorkerService before
// polling again.
type WorkerPool struct {
	repo         repository.JobRepository
	worker       *WorkerService
	metrics      *metrics.Metrics
	pollInterval time.Duration
	logger       *slog.Logger

	// mu serializes Start and Stop.
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	poolID  string
	running atomic.Bool
	active  atomic.Int64
}

// PoolOption configures a WorkerPool
type PoolOption func(*WorkerPool)

// WithPollInterval sets how long idle workers wait between claims
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *WorkerPool) { p.pollInterval = d }
}

// WithPoolLogger sets the pool logger
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *WorkerPool) { p.logger = l }
}

// NewWorkerPool creates a stopped worker pool
func NewWorkerPool(repo repository.JobRepository, worker *WorkerService, metrics *metrics.Metrics, opts ...PoolOption) *WorkerPool {
	p := &WorkerPool{
		repo:         repo,
		worker:       worker,
		metrics:      metrics,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns n polling goroutines. It is a no-op if the pool is already running.
func (p *WorkerPool) Start(n int) error {
	if n < 1 {
		return ErrInvalidWorkerCount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		p.logger.Info("worker pool already running", "pool_id", p.poolID, "workers", p.active.Load())
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.poolID = uuid.New().String()
	p.running.Store(true)
	p.active.Store(int64(n))
	p.metrics.SetActiveWorkers(n)

	p.logger.Info("worker pool starting",
		"pool_id", p.poolID,
		"workers", n,
		"poll_interval", p.pollInterval,
	)

	for i := 1; i <= n; i++ {
		p.wg.Add(1)
		go p.poll(ctx, i)
	}
	return nil
}

// Stop cancels every polling goroutine and waits for them to exit.
// Idle and backing-off workers wake immediately; a worker waiting on a child
// process leaves its job failed and exits without claiming again.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return
	}

	p.logger.Info("worker pool stopping", "pool_id", p.poolID)
	p.cancel()
	p.wg.Wait()

	p.running.Store(false)
	p.active.Store(0)
	p.metrics.SetActiveWorkers(0)
	p.logger.Info("worker pool stopped", "pool_id", p.poolID)
}

// Running reports whether the pool has been started and not stopped
func (p *WorkerPool) Running() bool {
	return p.running.Load()
}

// ActiveWorkerCount returns the number of spawned polling goroutines
func (p *WorkerPool) ActiveWorkerCount() int {
	return int(p.active.Load())
}

func (p *WorkerPool) poll(ctx context.Context, worker int) {
	defer p.wg.Done()
	log := p.logger.With("worker", worker, "pool_id", p.poolID)
	log.Debug("worker started")

	for {
		if ctx.Err() != nil {
			log.Debug("worker stopping")
			return
		}

		job, err := p.repo.ClaimNextPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to claim job", "error", err)
		}
		if job == nil {
			if !sleep(ctx, p.pollInterval) {
				log.Debug("worker stopping")
				return
			}
			continue
		}

		if ctx.Err() != nil {
			p.worker.Abandon(ctx, job)
			log.Debug("worker stopping")
			return
		}

		log.Info("job claimed", "job_id", job.ID, "attempts", job.Attempts)
		outcome := p.runJob(ctx, log, job)
		log.Info("job finished", "job_id", job.ID, "outcome", outcome)
	}
}

// runJob keeps a panicking job from taking its poller down.
func (p *WorkerPool) runJob(ctx context.Context, log *slog.Logger, job *models.Job) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while running job", "job_id", job.ID, "panic", r)
			outcome = OutcomeUnknown
		}
	}()
	return p.worker.Run(ctx, job)
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"queuectl/internal/backoff"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"queuectl/internal/runner"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "queuectl/internal/service"

// Outcome is how a WorkerService run ended
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDead      Outcome = "dead"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeUnknown means a transition could not be persisted; the stored
	// state may lag the in-memory job.
	OutcomeUnknown Outcome = "unknown"
)

// WorkerService drives one claimed job through execution, retry and backoff
// until it is completed, dead or cancelled.
type WorkerService struct {
	repo    repository.JobRepository
	runner  runner.Runner
	metrics *metrics.Metrics
	backoff backoff.Strategy
	tracer  trace.Tracer
	logger  *slog.Logger
}

// WorkerOption configures a WorkerService
type WorkerOption func(*WorkerService)

// WithBackoff overrides the default 2^attempts seconds strategy
func WithBackoff(b backoff.Strategy) WorkerOption {
	return func(s *WorkerService) { s.backoff = b }
}

// WithTracer sets the tracer used for execution spans
func WithTracer(t trace.Tracer) WorkerOption {
	return func(s *WorkerService) { s.tracer = t }
}

// WithLogger sets the logger; job output lines are logged through it
func WithLogger(l *slog.Logger) WorkerOption {
	return func(s *WorkerService) { s.logger = l }
}

// NewWorkerService creates a new worker service
func NewWorkerService(repo repository.JobRepository, r runner.Runner, metrics *metrics.Metrics, opts ...WorkerOption) *WorkerService {
	s := &WorkerService{
		repo:    repo,
		runner:  r,
		metrics: metrics,
		backoff: backoff.Default(),
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the job until it reaches a terminal outcome. It never claims
// another job. Transitions are persisted even after ctx is cancelled so the
// final state of a cancelled job is recorded.
func (s *WorkerService) Run(ctx context.Context, job *models.Job) Outcome {
	log := s.logger.With("job_id", job.ID)
	persistCtx := context.WithoutCancel(ctx)

	for {
		if err := job.MarkProcessing(); err != nil {
			log.Error("job cannot be processed", "state", job.State, "error", err)
			return OutcomeUnknown
		}
		if !s.persist(persistCtx, log, job) {
			return OutcomeUnknown
		}

		err := s.execute(ctx, log, job)
		switch {
		case err == nil:
			return s.complete(persistCtx, log, job)
		case isCancellation(err):
			return s.cancel(persistCtx, log, job)
		}

		state, ferr := job.RecordFailure()
		if ferr != nil {
			log.Error("failed to record failure", "error", ferr)
			return OutcomeUnknown
		}
		s.metrics.IncrementFailedJobs()
		if !s.persist(persistCtx, log, job) {
			return OutcomeUnknown
		}

		if state == models.StateDead {
			s.metrics.IncrementDeadJobs()
			log.Warn("job moved to dead letter queue",
				"attempts", job.Attempts,
				"max_retries", job.MaxRetries,
				"error", err,
			)
			return OutcomeDead
		}

		delay := s.backoff.Delay(job.Attempts)
		s.metrics.IncrementRetriedJobs()
		log.Info("job failed, retrying",
			"attempt", job.Attempts,
			"max_retries", job.MaxRetries,
			"delay", delay,
			"error", err,
		)

		if !sleep(ctx, delay) {
			return s.cancel(persistCtx, log, job)
		}
	}
}

// Abandon records a job that was claimed after ctx was cancelled. The command
// is never started and the job is left failed with its attempts unchanged,
// the same as a job cancelled mid-run.
func (s *WorkerService) Abandon(ctx context.Context, job *models.Job) Outcome {
	log := s.logger.With("job_id", job.ID)
	log.Warn("job claimed while stopping, not started")
	return s.cancel(context.WithoutCancel(ctx), log, job)
}

func (s *WorkerService) execute(ctx context.Context, log *slog.Logger, job *models.Job) error {
	ctx, span := s.tracer.Start(ctx, "queuectl.job.execute",
		trace.WithAttributes(
			attribute.String("queuectl.job.id", job.ID),
			attribute.Int("queuectl.job.attempt", job.Attempts+1),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	log.Info("executing job", "command", job.Command, "attempt", job.Attempts+1)

	err := s.runner.Run(ctx, job.Command, func(line string) {
		log.Info("job output", "line", line)
	})

	if isCancellation(err) {
		span.SetStatus(codes.Error, "cancelled")
		return err
	}
	span.SetAttributes(attribute.Int("queuectl.job.exit_code", runner.ExitCode(err)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (s *WorkerService) complete(ctx context.Context, log *slog.Logger, job *models.Job) Outcome {
	if err := job.MarkCompleted(); err != nil {
		log.Error("failed to mark job completed", "error", err)
		return OutcomeUnknown
	}
	if !s.persist(ctx, log, job) {
		return OutcomeUnknown
	}
	s.metrics.IncrementCompletedJobs()
	log.Info("job completed successfully", "attempts", job.Attempts)
	return OutcomeCompleted
}

// cancel leaves the job failed with no automatic retry.
func (s *WorkerService) cancel(ctx context.Context, log *slog.Logger, job *models.Job) Outcome {
	if err := job.MarkCancelled(); err != nil {
		log.Error("failed to mark job cancelled", "error", err)
		return OutcomeUnknown
	}
	if !s.persist(ctx, log, job) {
		return OutcomeUnknown
	}
	s.metrics.IncrementCancelledJobs()
	log.Warn("job cancelled, left in failed state", "attempts", job.Attempts)
	return OutcomeCancelled
}

func (s *WorkerService) persist(ctx context.Context, log *slog.Logger, job *models.Job) bool {
	if err := s.repo.PersistJob(ctx, job); err != nil {
		log.Error("failed to persist job, stored state unknown",
			"state", job.State,
			"attempts", job.Attempts,
			"error", err,
		)
		return false
	}
	return true
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

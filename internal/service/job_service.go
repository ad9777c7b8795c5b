package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"strings"
)

// DefaultMaxRetries applies when a job is enqueued without max retries
const DefaultMaxRetries = 3

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrDuplicateJob      = errors.New("job with same id already exists")
	ErrNotDead           = errors.New("job is not in dead state")
	ErrInvalidJob        = errors.New("invalid job")
)

// JobService handles job business logic
type JobService struct {
	repo              repository.JobRepository
	rateLimiter       *RateLimiter
	metrics           *metrics.Metrics
	logger            *slog.Logger
	defaultMaxRetries int
}

// JobServiceOption configures a JobService
type JobServiceOption func(*JobService)

// WithDefaultMaxRetries sets the max retries used when a request carries none
func WithDefaultMaxRetries(n int) JobServiceOption {
	return func(s *JobService) { s.defaultMaxRetries = n }
}

// WithServiceLogger sets the service logger
func WithServiceLogger(l *slog.Logger) JobServiceOption {
	return func(s *JobService) { s.logger = l }
}

// NewJobService creates a new job service. rateLimiter may be nil.
func NewJobService(repo repository.JobRepository, rateLimiter *RateLimiter, metrics *metrics.Metrics, opts ...JobServiceOption) *JobService {
	s := &JobService{
		repo:              repo,
		rateLimiter:       rateLimiter,
		metrics:           metrics,
		logger:            slog.Default(),
		defaultMaxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue stores a new pending job. client identifies the submitter for rate limiting.
func (s *JobService) Enqueue(ctx context.Context, req *models.CreateJobRequest, client string) (*models.Job, error) {
	if s.rateLimiter != nil {
		if err := s.rateLimiter.CheckSubmissionRate(ctx, client); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(req.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidJob)
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidJob)
	}

	maxRetries := s.defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidJob)
	}

	job := models.NewJob(req.ID, req.Command, maxRetries)
	if err := s.repo.CreateJob(ctx, job); err != nil {
		var dupErr *repository.ErrDuplicateJobID
		if errors.As(err, &dupErr) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, dupErr.ID)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.metrics.IncrementEnqueuedJobs()
	s.logger.Info("job enqueued", "job_id", job.ID, "command", job.Command, "max_retries", job.MaxRetries)

	return job, nil
}

// GetJob retrieves a job by ID
func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.GetJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListByState retrieves jobs in the given state
func (s *JobService) ListByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	jobs, err := s.repo.ListJobsByState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListDeadJobs retrieves the dead letter set
func (s *JobService) ListDeadJobs(ctx context.Context) ([]*models.Job, error) {
	return s.ListByState(ctx, models.StateDead)
}

// RequeueDead moves a dead job back to pending with attempts reset
func (s *JobService) RequeueDead(ctx context.Context, id string) error {
	err := s.repo.RequeueDeadJob(ctx, id)
	if err == nil {
		s.logger.Info("job requeued from dead letter queue", "job_id", id)
		return nil
	}
	if !errors.Is(err, repository.ErrJobNotRequeueable) {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	if _, getErr := s.repo.GetJobByID(ctx, id); errors.Is(getErr, repository.ErrJobNotFound) {
		return ErrJobNotFound
	}
	return fmt.Errorf("%w: %s", ErrNotDead, id)
}

// Stats returns the number of jobs per state
func (s *JobService) Stats(ctx context.Context) (map[models.JobState]int, error) {
	counts, err := s.repo.CountJobsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return counts, nil
}

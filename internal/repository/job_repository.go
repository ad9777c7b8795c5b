package repository

import (
	"context"
	"errors"
	"fmt"
	"queuectl/internal/models"
)

var (
	// ErrJobNotFound is returned when no job has the given id
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotRequeueable is returned when a requeue targets a job that is missing or not dead
	ErrJobNotRequeueable = errors.New("job not found in dead state")

	// ErrStoreUnavailable wraps every persistence layer failure
	ErrStoreUnavailable = errors.New("job store unavailable")
)

// ErrDuplicateJobID is returned when a job with the same id already exists
type ErrDuplicateJobID struct {
	ID string
}

func (e *ErrDuplicateJobID) Error() string {
	return fmt.Sprintf("job with id %s already exists", e.ID)
}

// JobRepository defines the interface for job persistence.
//
// ClaimNextPending is the only concurrency primitive: under any number of
// concurrent callers a pending job is handed to at most one of them. A nil job
// with a nil error means nothing was claimed and the caller should retry later.
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	ListJobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error)
	CountJobsByState(ctx context.Context) (map[models.JobState]int, error)
	ClaimNextPending(ctx context.Context) (*models.Job, error)
	PersistJob(ctx context.Context, job *models.Job) error
	RequeueDeadJob(ctx context.Context, id string) error
	Close() error
}

// storeError wraps a database failure so callers can match ErrStoreUnavailable.
func storeError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrStoreUnavailable, err)
}

func emptyCounts() map[models.JobState]int {
	counts := make(map[models.JobState]int, len(models.AllStates))
	for _, st := range models.AllStates {
		counts[st] = 0
	}
	return counts
}

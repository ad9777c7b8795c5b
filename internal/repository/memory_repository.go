package repository

import (
	"context"
	"fmt"
	"queuectl/internal/models"
	"sync"
	"time"
)

// MemoryRepository is an in-memory JobRepository. It holds the same claim
// contract as the SQLite store under its mutex and always hands out copies.
type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*models.Job)}
}

// Close is a no-op
func (m *MemoryRepository) Close() error { return nil }

// CreateJob inserts a new pending job
func (m *MemoryRepository) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return &ErrDuplicateJobID{ID: job.ID}
	}

	now := time.Now()
	job.State = models.StatePending
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

// GetJobByID retrieves a job by ID
func (m *MemoryRepository) GetJobByID(_ context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// ListJobsByState retrieves all jobs currently in the given state
func (m *MemoryRepository) ListJobsByState(_ context.Context, state models.JobState) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []*models.Job
	for _, job := range m.jobs {
		if job.State == state {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}
	return jobs, nil
}

// CountJobsByState returns the number of jobs per state
func (m *MemoryRepository) CountJobsByState(_ context.Context) (map[models.JobState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := emptyCounts()
	for _, job := range m.jobs {
		counts[job.State]++
	}
	return counts, nil
}

// ClaimNextPending picks any pending job and moves it to processing.
// Map iteration order is random, so no ordering is implied.
func (m *MemoryRepository) ClaimNextPending(_ context.Context) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.State != models.StatePending {
			continue
		}
		job.State = models.StateProcessing
		job.UpdatedAt = time.Now()
		cp := *job
		return &cp, nil
	}
	return nil, nil
}

// PersistJob overwrites the stored state and attempts of an existing job
func (m *MemoryRepository) PersistJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	stored.State = job.State
	stored.Attempts = job.Attempts
	stored.UpdatedAt = time.Now()
	return nil
}

// RequeueDeadJob moves a dead job back to pending with attempts reset
func (m *MemoryRepository) RequeueDeadJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.State != models.StateDead {
		return fmt.Errorf("%w: %s", ErrJobNotRequeueable, id)
	}
	job.State = models.StatePending
	job.Attempts = 0
	job.UpdatedAt = time.Now()
	return nil
}

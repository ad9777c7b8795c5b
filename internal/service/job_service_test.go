package service

import (
	"context"
	"errors"
	"fmt"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"testing"
)

// mockRepository is a mock implementation of JobRepository
type mockRepository struct {
	jobs           map[string]*models.Job
	createJobError error
	getJobError    error
	listJobsError  error
	countError     error
	requeueError   error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		jobs: make(map[string]*models.Job),
	}
}

func (m *mockRepository) CreateJob(ctx context.Context, job *models.Job) error {
	if m.createJobError != nil {
		return m.createJobError
	}
	if _, exists := m.jobs[job.ID]; exists {
		return &repository.ErrDuplicateJobID{ID: job.ID}
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	if m.getJobError != nil {
		return nil, m.getJobError
	}
	job, exists := m.jobs[id]
	if !exists {
		return nil, repository.ErrJobNotFound
	}
	return job, nil
}

func (m *mockRepository) ListJobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	if m.listJobsError != nil {
		return nil, m.listJobsError
	}
	var result []*models.Job
	for _, job := range m.jobs {
		if job.State == state {
			result = append(result, job)
		}
	}
	return result, nil
}

func (m *mockRepository) CountJobsByState(ctx context.Context) (map[models.JobState]int, error) {
	if m.countError != nil {
		return nil, m.countError
	}
	counts := make(map[models.JobState]int)
	for _, job := range m.jobs {
		counts[job.State]++
	}
	return counts, nil
}

func (m *mockRepository) ClaimNextPending(ctx context.Context) (*models.Job, error) {
	return nil, nil
}

func (m *mockRepository) PersistJob(ctx context.Context, job *models.Job) error {
	if _, exists := m.jobs[job.ID]; !exists {
		return repository.ErrJobNotFound
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockRepository) RequeueDeadJob(ctx context.Context, id string) error {
	if m.requeueError != nil {
		return m.requeueError
	}
	job, exists := m.jobs[id]
	if !exists || job.State != models.StateDead {
		return fmt.Errorf("%w: %s", repository.ErrJobNotRequeueable, id)
	}
	job.State = models.StatePending
	job.Attempts = 0
	return nil
}

func (m *mockRepository) Close() error { return nil }

func intPtr(n int) *int { return &n }

func TestJobService_Enqueue_Success(t *testing.T) {
	repo := newMockRepository()
	m := metrics.NewMetrics()
	service := NewJobService(repo, NewRateLimiter(60, 10), m)

	req := &models.CreateJobRequest{
		ID:         "job-1",
		Command:    "echo hello",
		MaxRetries: intPtr(5),
	}

	job, err := service.Enqueue(context.Background(), req, "client-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.ID != req.ID {
		t.Errorf("expected id %s, got %s", req.ID, job.ID)
	}
	if job.Command != req.Command {
		t.Errorf("expected command %s, got %s", req.Command, job.Command)
	}
	if job.State != models.StatePending {
		t.Errorf("expected state pending, got %s", job.State)
	}
	if job.MaxRetries != 5 {
		t.Errorf("expected max_retries 5, got %d", job.MaxRetries)
	}

	if m.GetSnapshot()["enqueued_jobs"] != 1 {
		t.Errorf("expected enqueued_jobs 1, got %d", m.GetSnapshot()["enqueued_jobs"])
	}
}

func TestJobService_Enqueue_DefaultMaxRetries(t *testing.T) {
	repo := newMockRepository()
	service := NewJobService(repo, nil, metrics.NewMetrics())

	job, err := service.Enqueue(context.Background(), &models.CreateJobRequest{ID: "job-1", Command: "true"}, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected max_retries %d, got %d", DefaultMaxRetries, job.MaxRetries)
	}
}

func TestJobService_Enqueue_ConfiguredDefaultMaxRetries(t *testing.T) {
	repo := newMockRepository()
	service := NewJobService(repo, nil, metrics.NewMetrics(), WithDefaultMaxRetries(7))

	job, err := service.Enqueue(context.Background(), &models.CreateJobRequest{ID: "job-1", Command: "true"}, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.MaxRetries != 7 {
		t.Errorf("expected max_retries 7, got %d", job.MaxRetries)
	}
}

func TestJobService_Enqueue_ZeroMaxRetriesIsKept(t *testing.T) {
	repo := newMockRepository()
	service := NewJobService(repo, nil, metrics.NewMetrics())

	job, err := service.Enqueue(context.Background(), &models.CreateJobRequest{ID: "job-1", Command: "true", MaxRetries: intPtr(0)}, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.MaxRetries != 0 {
		t.Errorf("expected max_retries 0, got %d", job.MaxRetries)
	}
}

func TestJobService_Enqueue_Validation(t *testing.T) {
	service := NewJobService(newMockRepository(), nil, metrics.NewMetrics())

	tests := []struct {
		name string
		req  *models.CreateJobRequest
	}{
		{"missing id", &models.CreateJobRequest{Command: "true"}},
		{"blank command", &models.CreateJobRequest{ID: "job-1", Command: "   "}},
		{"negative retries", &models.CreateJobRequest{ID: "job-1", Command: "true", MaxRetries: intPtr(-1)}},
	}

	for _, tt := range tests {
		_, err := service.Enqueue(context.Background(), tt.req, "")
		if !errors.Is(err, ErrInvalidJob) {
			t.Errorf("%s: expected ErrInvalidJob, got %v", tt.name, err)
		}
	}
}

func TestJobService_Enqueue_DuplicateID(t *testing.T) {
	repo := newMockRepository()
	service := NewJobService(repo, nil, metrics.NewMetrics())

	req := &models.CreateJobRequest{ID: "job-1", Command: "true"}
	if _, err := service.Enqueue(context.Background(), req, ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, err := service.Enqueue(context.Background(), &models.CreateJobRequest{ID: "job-1", Command: "false"}, "")
	if !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}

	if repo.jobs["job-1"].Command != "true" {
		t.Errorf("expected original command to be kept, got %s", repo.jobs["job-1"].Command)
	}
}

func TestJobService_Enqueue_RateLimitExceeded(t *testing.T) {
	repo := newMockRepository()
	service := NewJobService(repo, NewRateLimiter(1, 1), metrics.NewMetrics())

	if _, err := service.Enqueue(context.Background(), &models.CreateJobRequest{ID: "a", Command: "true"}, "client-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, err := service.Enqueue(context.Background(), &models.CreateJobRequest{ID: "b", Command: "true"}, "client-1")
	if err != ErrRateLimitExceeded {
		t.Errorf("expected rate limit error, got %v", err)
	}
	if _, exists := repo.jobs["b"]; exists {
		t.Error("expected rate limited job not to be stored")
	}
}

func TestJobService_Enqueue_StoreUnavailable(t *testing.T) {
	repo := newMockRepository()
	repo.createJobError = fmt.Errorf("failed to create job: %w", repository.ErrStoreUnavailable)
	service := NewJobService(repo, nil, metrics.NewMetrics())

	_, err := service.Enqueue(context.Background(), &models.CreateJobRequest{ID: "a", Command: "true"}, "")
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestJobService_GetJob_Success(t *testing.T) {
	repo := newMockRepository()
	service := NewJobService(repo, nil, metrics.NewMetrics())
	repo.jobs["job-1"] = models.NewJob("job-1", "true", 3)

	job, err := service.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.ID != "job-1" {
		t.Errorf("expected id job-1, got %s", job.ID)
	}
}

func TestJobService_GetJob_NotFound(t *testing.T) {
	service := NewJobService(newMockRepository(), nil, metrics.NewMetrics())

	_, err := service.GetJob(context.Background(), "non-existent")
	if err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobService_ListByState(t *testing.T) {
	repo := newMockRepository()
	service := NewJobService(repo, nil, metrics.NewMetrics())

	repo.jobs["a"] = models.NewJob("a", "true", 3)
	repo.jobs["b"] = models.NewJob("b", "true", 3)
	dead := models.NewJob("c", "false", 0)
	dead.State = models.StateDead
	repo.jobs["c"] = dead

	jobs, err := service.ListByState(context.Background(), models.StatePending)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected 2 pending jobs, got %d", len(jobs))
	}

	deadJobs, err := service.ListDeadJobs(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(deadJobs) != 1 || deadJobs[0].ID != "c" {
		t.Errorf("expected dead job c, got %v", deadJobs)
	}
}

func TestJobService_ListByState_Error(t *testing.T) {
	repo := newMockRepository()
	repo.listJobsError = repository.ErrStoreUnavailable
	service := NewJobService(repo, nil, metrics.NewMetrics())

	_, err := service.ListByState(context.Background(), models.StatePending)
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestJobService_RequeueDead(t *testing.T) {
	repo := newMockRepository()
	service := NewJobService(repo, nil, metrics.NewMetrics())

	dead := models.NewJob("e", "false", 2)
	dead.State = models.StateDead
	dead.Attempts = 3
	repo.jobs["e"] = dead

	if err := service.RequeueDead(context.Background(), "e"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if dead.State != models.StatePending || dead.Attempts != 0 {
		t.Errorf("expected pending with 0 attempts, got %s with %d", dead.State, dead.Attempts)
	}

	err := service.RequeueDead(context.Background(), "e")
	if !errors.Is(err, ErrNotDead) {
		t.Errorf("expected ErrNotDead on second requeue, got %v", err)
	}
}

func TestJobService_RequeueDead_NotFound(t *testing.T) {
	service := NewJobService(newMockRepository(), nil, metrics.NewMetrics())

	err := service.RequeueDead(context.Background(), "missing")
	if err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobService_RequeueDead_StoreError(t *testing.T) {
	repo := newMockRepository()
	repo.requeueError = repository.ErrStoreUnavailable
	service := NewJobService(repo, nil, metrics.NewMetrics())

	err := service.RequeueDead(context.Background(), "e")
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestJobService_Stats(t *testing.T) {
	repo := newMockRepository()
	service := NewJobService(repo, nil, metrics.NewMetrics())
	repo.jobs["a"] = models.NewJob("a", "true", 3)
	done := models.NewJob("b", "true", 3)
	done.State = models.StateCompleted
	repo.jobs["b"] = done

	counts, err := service.Stats(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if counts[models.StatePending] != 1 || counts[models.StateCompleted] != 1 {
		t.Errorf("expected 1 pending and 1 completed, got %v", counts)
	}
}

package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
	"queuectl/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// WorkerController is the part of the worker pool the API drives
type WorkerController interface {
	Start(n int) error
	Stop()
	Running() bool
	ActiveWorkerCount() int
}

// JobHandler handles HTTP requests for jobs and workers
type JobHandler struct {
	jobService     *service.JobService
	workers        WorkerController
	metrics        *metrics.Metrics
	defaultWorkers int
	logger         *slog.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *service.JobService, workers WorkerController, metrics *metrics.Metrics, defaultWorkers int, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultWorkers < 1 {
		defaultWorkers = 1
	}
	return &JobHandler{
		jobService:     jobService,
		workers:        workers,
		metrics:        metrics,
		defaultWorkers: defaultWorkers,
		logger:         logger,
	}
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Counts         map[models.JobState]int `json:"counts"`
	Total          int                     `json:"total"`
	ActiveWorkers  int                     `json:"active_workers"`
	WorkersRunning bool                    `json:"workers_running"`
	Metrics        map[string]int64        `json:"metrics"`
}

type startWorkersRequest struct {
	Count int `json:"count"`
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// NewRouter wires the job routes, metrics and health endpoints
func NewRouter(h *JobHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.metrics.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/", h.ListJobs)
		r.Get("/{id}", h.GetJob)
	})
	r.Get("/status", h.GetStatus)
	r.Get("/dlq", h.GetDeadLetterQueue)
	r.Post("/dlq/{id}/retry", h.RetryDeadJob)
	r.Post("/workers/start", h.StartWorkers)
	r.Post("/workers/stop", h.StopWorkers)

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateJob handles POST /jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.jobService.Enqueue(r.Context(), &req, clientKey(r))
	if err != nil {
		h.writeError(w, r, "job creation failed", err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, job)
}

// GetJob handles GET /jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobService.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "failed to retrieve job", err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, job)
}

// ListJobs handles GET /jobs?state=
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	stateStr := r.URL.Query().Get("state")
	if stateStr == "" {
		http.Error(w, "state query parameter is required", http.StatusBadRequest)
		return
	}

	state, err := models.ParseJobState(stateStr)
	if err != nil {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	jobs, err := h.jobService.ListByState(r.Context(), state)
	if err != nil {
		h.writeError(w, r, "failed to list jobs", err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, nonNil(jobs))
}

// GetStatus handles GET /status
func (h *JobHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.jobService.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, "failed to retrieve status", err)
		return
	}

	resp := StatusResponse{
		Counts:         counts,
		ActiveWorkers:  h.workers.ActiveWorkerCount(),
		WorkersRunning: h.workers.Running(),
		Metrics:        h.metrics.GetSnapshot(),
	}
	for _, n := range counts {
		resp.Total += n
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

// GetDeadLetterQueue handles GET /dlq
func (h *JobHandler) GetDeadLetterQueue(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobService.ListDeadJobs(r.Context())
	if err != nil {
		h.writeError(w, r, "failed to retrieve dead letter queue", err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, nonNil(jobs))
}

// RetryDeadJob handles POST /dlq/{id}/retry
func (h *JobHandler) RetryDeadJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.jobService.RequeueDead(r.Context(), id); err != nil {
		h.writeError(w, r, "failed to requeue job", err)
		return
	}

	job, err := h.jobService.GetJob(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "failed to retrieve job", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, job)
}

// StartWorkers handles POST /workers/start
func (h *JobHandler) StartWorkers(w http.ResponseWriter, r *http.Request) {
	req := startWorkersRequest{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Count == 0 {
		req.Count = h.defaultWorkers
	}

	if err := h.workers.Start(req.Count); err != nil {
		if errors.Is(err, service.ErrInvalidWorkerCount) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeError(w, r, "failed to start workers", err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"running":        h.workers.Running(),
		"active_workers": h.workers.ActiveWorkerCount(),
	})
}

// StopWorkers handles POST /workers/stop
func (h *JobHandler) StopWorkers(w http.ResponseWriter, r *http.Request) {
	h.workers.Stop()
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"running":        h.workers.Running(),
		"active_workers": h.workers.ActiveWorkerCount(),
	})
}

// Health handles GET /healthz
func (h *JobHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	if _, err := h.jobService.Stats(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "healthz: store check failed", "error", err)
		resp.Status = "degraded"
		resp.Store = "unavailable"
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, r, status, resp)
}

func (h *JobHandler) writeError(w http.ResponseWriter, r *http.Request, action string, err error) {
	var dupErr *repository.ErrDuplicateJobID
	switch {
	case errors.Is(err, service.ErrRateLimitExceeded):
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	case errors.Is(err, service.ErrInvalidJob):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrDuplicateJob), errors.As(err, &dupErr):
		http.Error(w, action+": duplicate job id", http.StatusConflict)
	case errors.Is(err, service.ErrNotDead):
		http.Error(w, action+": job is not dead", http.StatusConflict)
	case errors.Is(err, service.ErrJobNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
	case errors.Is(err, repository.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), action, "error", err)
		http.Error(w, action+": store unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.ErrorContext(r.Context(), action, "error", err)
		http.Error(w, action+": "+err.Error(), http.StatusInternalServerError)
	}
}

func (h *JobHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.ErrorContext(r.Context(), "error encoding response", "error", err)
	}
}

// clientKey identifies the submitter for rate limiting; RealIP has already
// rewritten RemoteAddr from forwarding headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func nonNil(jobs []*models.Job) []*models.Job {
	if jobs == nil {
		return []*models.Job{}
	}
	return jobs
}

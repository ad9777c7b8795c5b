package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks queue metrics. Counters are kept both as plain values for
// GetSnapshot and as prometheus collectors on a private registry.
type Metrics struct {
	mu sync.RWMutex

	enqueuedJobs  int64
	completedJobs int64
	failedJobs    int64
	retriedJobs   int64
	deadJobs      int64
	cancelledJobs int64
	activeWorkers int64

	registry *prometheus.Registry
	jobs     *prometheus.CounterVec
	workers  prometheus.Gauge
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queuectl",
		Name:      "jobs_total",
		Help:      "Job lifecycle events by outcome.",
	}, []string{"event"})
	workers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "queuectl",
		Name:      "active_workers",
		Help:      "Number of polling workers in the running pool.",
	})
	reg.MustRegister(jobs, workers)

	return &Metrics{
		registry: reg,
		jobs:     jobs,
		workers:  workers,
	}
}

// IncrementEnqueuedJobs increments the enqueued jobs counter
func (m *Metrics) IncrementEnqueuedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueuedJobs++
	m.jobs.WithLabelValues("enqueued").Inc()
}

// IncrementCompletedJobs increments the completed jobs counter
func (m *Metrics) IncrementCompletedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completedJobs++
	m.jobs.WithLabelValues("completed").Inc()
}

// IncrementFailedJobs counts a failed execution attempt
func (m *Metrics) IncrementFailedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedJobs++
	m.jobs.WithLabelValues("failed").Inc()
}

// IncrementRetriedJobs increments the retried jobs counter
func (m *Metrics) IncrementRetriedJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retriedJobs++
	m.jobs.WithLabelValues("retried").Inc()
}

// IncrementDeadJobs counts a job moved to the dead letter set
func (m *Metrics) IncrementDeadJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadJobs++
	m.jobs.WithLabelValues("dead").Inc()
}

// IncrementCancelledJobs counts a job left failed by pool shutdown
func (m *Metrics) IncrementCancelledJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledJobs++
	m.jobs.WithLabelValues("cancelled").Inc()
}

// SetActiveWorkers records the size of the running pool
func (m *Metrics) SetActiveWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeWorkers = int64(n)
	m.workers.Set(float64(n))
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"enqueued_jobs":  m.enqueuedJobs,
		"completed_jobs": m.completedJobs,
		"failed_jobs":    m.failedJobs,
		"retried_jobs":   m.retriedJobs,
		"dead_jobs":      m.deadJobs,
		"cancelled_jobs": m.cancelledJobs,
		"active_workers": m.activeWorkers,
	}
}

// Registry exposes the underlying prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

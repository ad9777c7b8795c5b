package models

import (
	"errors"
	"fmt"
	"time"
)

// JobState represents the lifecycle state of a job
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateDead       JobState = "dead"
)

// AllStates lists every job state in lifecycle order
var AllStates = []JobState{
	StatePending,
	StateProcessing,
	StateCompleted,
	StateFailed,
	StateDead,
}

// ErrInvalidTransition is returned when a state change is not allowed by the state machine
var ErrInvalidTransition = errors.New("invalid job state transition")

// transitions is the allowed from -> to table.
var transitions = map[JobState][]JobState{
	StatePending:    {StateProcessing},
	StateProcessing: {StateProcessing, StateCompleted, StateFailed, StateDead},
	StateFailed:     {StateProcessing},
	StateDead:       {StatePending},
}

// ParseJobState validates a user supplied state name
func ParseJobState(s string) (JobState, error) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// IsTerminal reports whether a worker stops driving a job in this state
func (s JobState) IsTerminal() bool {
	return s == StateCompleted || s == StateDead
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job represents a shell command job in the queue
type Job struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	State      JobState  `json:"state"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a job
type CreateJobRequest struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	MaxRetries *int   `json:"max_retries,omitempty"`
}

// NewJob creates a pending job with zero attempts
func NewJob(id, command string, maxRetries int) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		Command:    command,
		State:      StatePending,
		Attempts:   0,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (j *Job) transition(to JobState) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, j.ID, j.State, to)
	}
	j.State = to
	j.UpdatedAt = time.Now()
	return nil
}

// MarkProcessing moves a claimed or retrying job into processing
func (j *Job) MarkProcessing() error {
	return j.transition(StateProcessing)
}

// MarkCompleted records a successful execution
func (j *Job) MarkCompleted() error {
	return j.transition(StateCompleted)
}

// RecordFailure counts a failed execution and returns the resulting state:
// dead once attempts exceed max retries, failed otherwise.
func (j *Job) RecordFailure() (JobState, error) {
	if j.State != StateProcessing {
		return j.State, fmt.Errorf("%w: job %s failure recorded in state %s", ErrInvalidTransition, j.ID, j.State)
	}
	j.Attempts++
	next := StateFailed
	if j.Attempts > j.MaxRetries {
		next = StateDead
	}
	if err := j.transition(next); err != nil {
		return j.State, err
	}
	return next, nil
}

// MarkCancelled leaves the job failed without counting an attempt.
// Cancellation can happen while processing or during a backoff sleep.
func (j *Job) MarkCancelled() error {
	if j.State == StateFailed {
		j.UpdatedAt = time.Now()
		return nil
	}
	return j.transition(StateFailed)
}

// Requeue moves a dead job back to pending with attempts reset
func (j *Job) Requeue() error {
	if err := j.transition(StatePending); err != nil {
		return err
	}
	j.Attempts = 0
	return nil
}

func (j *Job) String() string {
	return fmt.Sprintf("Job{id=%q, state=%s, attempts=%d/%d}", j.ID, j.State, j.Attempts, j.MaxRetries)
}

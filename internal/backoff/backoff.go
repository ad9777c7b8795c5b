// Package backoff computes the delay between a failed execution and its retry.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait after the given number of failed attempts.
	Delay(attempts int) time.Duration
}

// Exponential doubles the delay with every failed attempt.
// Delay = Unit * 2^attempts, with no cap and no jitter.
type Exponential struct {
	Unit time.Duration
}

// NewExponential creates an exponential strategy with the given time unit.
func NewExponential(unit time.Duration) *Exponential {
	return &Exponential{Unit: unit}
}

// Delay returns Unit * 2^attempts. Values past the range of time.Duration
// saturate rather than wrap negative.
func (e *Exponential) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := float64(e.Unit) * math.Pow(2, float64(attempts))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Default returns the production strategy: 2^attempts seconds.
func Default() Strategy {
	return NewExponential(time.Second)
}

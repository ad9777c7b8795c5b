package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// minIdleTTL bounds how often idle client limiters are swept.
const minIdleTTL = time.Minute

// RateLimiter limits job submissions per client with a token bucket each
type RateLimiter struct {
	mu sync.Mutex

	limit    rate.Limit
	burst    int
	limiters map[string]*clientLimiter

	// A limiter idle for idleTTL has refilled its bucket and is dropped.
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perMinute submissions per client
// with the given burst. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	if burst < 1 {
		burst = 1
	}

	idleTTL := minIdleTTL
	if limit != rate.Inf {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idleTTL {
			idleTTL = refill
		}
	}

	return &RateLimiter{
		limit:     limit,
		burst:     burst,
		limiters:  make(map[string]*clientLimiter),
		idleTTL:   idleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// CheckSubmissionRate returns ErrRateLimitExceeded if client has no token left
func (rl *RateLimiter) CheckSubmissionRate(ctx context.Context, client string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rl.limit == rate.Inf {
		return nil
	}
	if !rl.limiterFor(client).Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		rl.sweep(now)
	}

	cl, ok := rl.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[client] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// sweep drops limiters not used within idleTTL. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for client, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) >= rl.idleTTL {
			delete(rl.limiters, client)
		}
	}
	rl.lastSweep = now
}

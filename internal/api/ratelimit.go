package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	mu      sync.Mutex
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requestsPerMin per client with the given burst
func NewRateLimiter(requestsPerMin, burst int) *RateLimiter {
	if burst <= 0 {
		burst = max(requestsPerMin/60, 1)
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requestsPerMin) / 60.0),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether a request from client may proceed now
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	c, ok := r.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[client] = c
	}
	c.lastSeen = time.Now()
	r.mu.Unlock()

	return c.limiter.Allow()
}

// Cleanup drops clients idle for longer than maxIdle
func (r *RateLimiter) Cleanup(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for key, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup periodically until ctx is done
func (r *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup(time.Hour)
			}
		}
	}()
}

package main

import (
	"net/http"
	"sync"
	"time"

	"wabagate/internal/constants"
	"wabagate/internal/httputil"
)

// RateLimiter is a sliding-window limiter keyed by client IP.
type RateLimiter struct {
	mu          sync.RWMutex
	requests    map[string][]time.Time
	limit       int
	window      time.Duration
	lastCleanup time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests:    make(map[string][]time.Time),
		limit:       limit,
		window:      window,
		lastCleanup: time.Now(),
	}
}

// Allow records a request from key and reports whether it fits in the window.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return false
	}

	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > constants.RateLimitCleanupInterval {
		rl.cleanup(cutoff)
		rl.lastCleanup = now
	}

	kept := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= rl.limit {
		rl.requests[key] = kept
		return false
	}
	rl.requests[key] = append(kept, now)
	return true
}

// cleanup drops keys with no request inside the window. Caller holds mu.
func (rl *RateLimiter) cleanup(cutoff time.Time) {
	for key, times := range rl.requests {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(rl.requests, key)
		}
	}
}

func clientKey(r *http.Request) string {
	return httputil.GetClientIP(r)
}

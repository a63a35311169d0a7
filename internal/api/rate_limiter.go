package api

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window limiter keyed by actor id.
type RateLimiter struct {
	mu       sync.Mutex
	perActor map[string]*actorRate
	limit    int
	window   time.Duration
	now      func() time.Time
}

type actorRate struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter returns a limiter allowing limit requests per window. A
// non-positive limit disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		return &RateLimiter{limit: 0}
	}
	return &RateLimiter{
		perActor: map[string]*actorRate{},
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (r *RateLimiter) Allow(actor string) (bool, time.Duration) {
	if r == nil || r.limit == 0 {
		return true, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	state, ok := r.perActor[actor]
	if !ok {
		state = &actorRate{windowStart: now}
		r.perActor[actor] = state
	}
	if now.Sub(state.windowStart) >= r.window {
		state.windowStart = now
		state.count = 0
	}
	if state.count >= r.limit {
		return false, state.windowStart.Add(r.window).Sub(now)
	}
	state.count++
	return true, 0
}

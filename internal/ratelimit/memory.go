package ratelimit

import (
	"context"
	"sync"
	"time"

	"crosspost/internal/domain"
)

type window struct {
	count int
	start time.Time
}

// MemoryLimiter keeps rate-limit windows in process memory.
// It is only correct while a single process publishes for an account.
type MemoryLimiter struct {
	mu      sync.Mutex
	limits  Limits
	clock   domain.Clock
	windows map[string]*window
}

// NewMemoryLimiter creates an in-process limiter. A nil clock uses the wall clock.
func NewMemoryLimiter(limits Limits, clock domain.Clock) *MemoryLimiter {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MemoryLimiter{
		limits:  limits,
		clock:   clock,
		windows: make(map[string]*window),
	}
}

// open returns the window of key if it has not elapsed. Caller holds mu.
func (l *MemoryLimiter) open(key string, limit Limit, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= limit.Window {
		return nil
	}
	return w
}

// Admit reports whether one more call fits in the current window
func (l *MemoryLimiter) Admit(_ context.Context, platform domain.Platform, accountID string) bool {
	limit, ok := l.limits.lookup(platform)
	if !ok {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.open(windowKey("ratelimit", platform, accountID), limit, l.clock.Now())
	return w == nil || w.count < limit.Max
}

// Record counts one confirmed successful call, opening a new window if needed
func (l *MemoryLimiter) Record(_ context.Context, platform domain.Platform, accountID string) {
	limit, ok := l.limits.lookup(platform)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := windowKey("ratelimit", platform, accountID)
	now := l.clock.Now()
	if w := l.open(key, limit, now); w != nil {
		w.count++
		return
	}
	l.windows[key] = &window{count: 1, start: now}
}

// Remaining returns how many calls are left in the current window
func (l *MemoryLimiter) Remaining(_ context.Context, platform domain.Platform, accountID string) int {
	limit, ok := l.limits.lookup(platform)
	if !ok {
		return Unlimited
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.open(windowKey("ratelimit", platform, accountID), limit, l.clock.Now())
	if w == nil {
		return limit.Max
	}
	if w.count >= limit.Max {
		return 0
	}
	return limit.Max - w.count
}

// ResetAt returns when the current window closes
func (l *MemoryLimiter) ResetAt(_ context.Context, platform domain.Platform, accountID string) time.Time {
	limit, ok := l.limits.lookup(platform)
	if !ok {
		return time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.open(windowKey("ratelimit", platform, accountID), limit, l.clock.Now())
	if w == nil {
		return time.Time{}
	}
	return w.start.Add(limit.Window)
}

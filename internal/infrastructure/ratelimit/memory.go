package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is a process-local fixed-window limiter. A user's window is
// reset lazily by the first call made after it expires.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[int64]*window
}

// NewMemoryLimiter creates an in-memory limiter. A nil clock means time.Now.
func NewMemoryLimiter(cfg Config, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		cfg:     cfg,
		now:     now,
		windows: make(map[int64]*window),
	}
}

// TryConsume takes one slot from the user's current window.
func (l *MemoryLimiter) TryConsume(_ context.Context, userID int64) bool {
	if l.cfg.Limit <= 0 {
		return true
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[userID]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		w = &window{start: now}
		l.windows[userID] = w
	}

	if w.count >= l.cfg.Limit {
		return false
	}
	w.count++
	return true
}

// Remaining returns how many slots the user has left in the current window.
func (l *MemoryLimiter) Remaining(userID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[userID]
	if !ok || l.now().Sub(w.start) >= l.cfg.Window {
		return l.cfg.Limit
	}
	return l.cfg.Limit - w.count
}

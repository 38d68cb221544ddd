package ratelimit

import (
	"context"
	"time"
)

// Limiter bounds how many manual refreshes a user may start per window.
// A denial is a throttling outcome, never an error.
type Limiter interface {
	TryConsume(ctx context.Context, userID int64) bool
}

// Config holds the fixed-window parameters
type Config struct {
	Limit  int
	Window time.Duration
}

// DefaultConfig allows ten manual refreshes per day.
func DefaultConfig() Config {
	return Config{Limit: 10, Window: 24 * time.Hour}
}

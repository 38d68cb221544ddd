package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(Config{Limit: 3, Window: 24 * time.Hour}, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.TryConsume(ctx, 1), "call %d should be allowed", i+1)
	}
	assert.False(t, limiter.TryConsume(ctx, 1), "fourth call should be throttled")
	assert.Equal(t, 0, limiter.Remaining(1))

	// Other users have their own window
	assert.True(t, limiter.TryConsume(ctx, 2))

	now = now.Add(23 * time.Hour)
	assert.False(t, limiter.TryConsume(ctx, 1), "window has not expired yet")

	now = now.Add(time.Hour)
	assert.True(t, limiter.TryConsume(ctx, 1), "window should reset lazily after expiry")
	assert.Equal(t, 2, limiter.Remaining(1))
}

func TestMemoryLimiter_ZeroLimitDisables(t *testing.T) {
	limiter := NewMemoryLimiter(Config{Limit: 0, Window: time.Hour}, nil)
	for i := 0; i < 100; i++ {
		assert.True(t, limiter.TryConsume(context.Background(), 1))
	}
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	limiter := NewMemoryLimiter(Config{Limit: 10, Window: time.Hour}, nil)

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.TryConsume(context.Background(), 9) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "findash:manual_refresh:"

// RedisLimiter is a fixed-window limiter shared across API instances.
// Counter state is advisory: when Redis is unreachable the request is allowed.
type RedisLimiter struct {
	client redis.Cmdable
	cfg    Config
	logger *zap.Logger
}

// NewRedisLimiter creates a limiter backed by the given client
func NewRedisLimiter(client redis.Cmdable, cfg Config, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg, logger: logger}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// TryConsume increments the user's window counter. The increment and the
// window expiry go out in one MULTI block; EXPIRE NX only starts a window on a
// key that has none, so a counter never outlives a lost expiry.
func (l *RedisLimiter) TryConsume(ctx context.Context, userID int64) bool {
	if l.cfg.Limit <= 0 {
		return true
	}

	key := fmt.Sprintf("%s%d", keyPrefix, userID)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.cfg.Window)
		return nil
	})
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request",
			zap.Int64("user_id", userID), zap.Error(err))
		return true
	}

	return incr.Val() <= int64(l.cfg.Limit)
}

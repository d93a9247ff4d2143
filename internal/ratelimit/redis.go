package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the fixed window with a Redis counter per
// identifier, so the limit holds across replicas. The key's TTL is the window;
// INCR and EXPIRE run in one pipeline.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
}

func NewRedisLimiter(redisURL string, cfg Config) (*RedisLimiter, error) {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLimiter{client: client, cfg: cfg}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (Result, error) {
	key := "whetstone:ratelimit:" + identifier

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.cfg.Window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := int(incr.Val())
	window := ttl.Val()
	if window < 0 {
		window = l.cfg.Window
	}
	resetAt := time.Now().Add(window)

	if count > l.cfg.MaxRequests {
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: window,
		}, nil
	}

	return Result{
		Allowed:   true,
		Remaining: l.cfg.MaxRequests - count,
		ResetAt:   resetAt,
	}, nil
}

func (l *RedisLimiter) Close() error { return l.client.Close() }

// Package ratelimit provides a Redis-backed fixed-window counter used to
// throttle login attempts.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts events per key within a fixed window.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewLimiter connects to Redis and verifies the connection.
func NewLimiter(redisURL string, limit int, window time.Duration) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewLimiterWithClient(client, limit, window), nil
}

// NewLimiterWithClient creates a Limiter from an existing Redis client.
func NewLimiterWithClient(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		prefix: "login:",
		limit:  limit,
		window: window,
	}
}

// Allow records one attempt for key and reports whether it is still within
// the window's budget. The window starts at the first attempt and expires
// with the key.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("increment attempt counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("set attempt window: %w", err)
		}
	}
	return count <= int64(l.limit), nil
}

// Reset clears the counter for key, used after a successful login.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset attempt counter: %w", err)
	}
	return nil
}

func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Limiter) Close() error {
	return l.client.Close()
}

// Package ratelimit implements a Redis-backed sliding window limiter used
// by the HTTP boundary to cap per-caller request rates.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &Limiter{client: client, prefix: prefix, limit: limit, window: window}
}

// The window lives in a sorted set scored by request time; the Lua script
// keeps trim+count+insert atomic so concurrent requests cannot both claim
// the last slot.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local current = redis.call('ZCARD', key)

	if current < limit then
		local counter = redis.call('INCR', key .. ':counter')
		redis.call('ZADD', key, now, now .. ':' .. counter)
		local expire_seconds = math.ceil(window_ms / 1000)
		redis.call('EXPIRE', key, expire_seconds)
		redis.call('EXPIRE', key .. ':counter', expire_seconds)
		return {1, limit - current - 1}
	end
	return {0, 0}
`)

// Allow reports whether one more request from key fits in the window, and
// how many slots remain.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	now := time.Now()
	result, err := slidingWindow.Run(ctx, l.client, []string{l.prefix + key},
		now.UnixMilli(), now.Add(-l.window).UnixMilli(), l.limit, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis script: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("unexpected redis response length: %d", len(result))
	}
	return result[0] == 1, int(result[1]), nil
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+key, l.prefix+key+":counter").Err()
}

func (l *Limiter) Limit() int {
	return l.limit
}

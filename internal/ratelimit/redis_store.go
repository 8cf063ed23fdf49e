package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rl:"

// incrementScript starts the expiry on the first hit of a window and
// returns {count, remaining ttl in ms}. A key left without an expiry gets
// one so it cannot block forever.
var incrementScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

type RedisStore struct {
	client redis.Scripter
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	values, err := incrementScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, windowMs).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("redis rate limit increment: %w", err)
	}
	if len(values) != 2 {
		return Counter{}, fmt.Errorf("redis rate limit increment: unexpected reply length %d", len(values))
	}

	remaining := time.Duration(values[1]) * time.Millisecond
	return Counter{
		Count:       int(values[0]),
		WindowStart: now.Add(remaining - window),
	}, nil
}

// OpenRedis parses url and verifies the server answers.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares the sliding window across replicas. Each key is a sorted
// set of request timestamps in microseconds.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// allowScript prunes the window, then records the hit only when under the
// limit. Returns {allowed, count, oldest}.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local allowed = 0
if count < limit then
  redis.call("ZADD", key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call("PEXPIRE", key, math.ceil(window / 1000))
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local first = ARGV[1]
if oldest[2] then
  first = oldest[2]
end
return {allowed, count, first}
`)

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	res, err := allowScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	firstRaw, _ := res[2].(string)
	first, err := strconv.ParseFloat(firstRaw, 64)
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: parse oldest hit: %w", key, err)
	}

	resetAt := time.UnixMicro(int64(first)).Add(window)
	out := &Result{
		Allowed: allowed == 1,
		Limit:   limit,
		ResetAt: resetAt,
	}
	if out.Allowed {
		out.Remaining = limit - int(count)
	} else {
		out.RetryAfter = retryAfter(now, resetAt)
	}
	return out, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the key's sorted set to the window, then either records the
// hit or reports how long until the oldest hit leaves the window. All in one round trip so
// concurrent instances cannot both take the last slot.
//
// KEYS[1] = counter key
// ARGV = now (ms), window (ms), limit, member
// Returns {allowed (0|1), remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
	retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// Redis is a sliding-window limiter shared by every instance pointing at the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis returns a limiter storing counters under "ratelimit:" in client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, prefix: "ratelimit:", now: time.Now}
}

// SetClock replaces the time source.
func (r *Redis) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, policy Policy, key string) (Decision, error) {
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}
	nowMs := r.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.prefix + policy.Name + ":" + key},
		nowMs, policy.Window.Milliseconds(), policy.Limit, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: redis: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: int(res[1])}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(res[2]) * time.Millisecond}, nil
}

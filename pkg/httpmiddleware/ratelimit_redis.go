package httpmiddleware

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript increments the current window counter unless the
// weighted count already reached the limit.
// KEYS: current window, previous window. ARGV: max, previous weight, ttl ms.
// Returns {allowed, remaining}.
var slidingWindowScript = redis.NewScript(`
local curr = tonumber(redis.call("GET", KEYS[1]) or "0")
local prev = tonumber(redis.call("GET", KEYS[2]) or "0")
local max = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])
if prev * weight + curr >= max then
	return {0, 0}
end
curr = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
local remaining = math.floor(max - (prev * weight + curr))
if remaining < 0 then
	remaining = 0
end
return {1, remaining}
`)

// RedisLimiter shares counters between API instances through Redis.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter creates a RedisLimiter storing counters under prefix.
func NewRedisLimiter(client redis.Scripter, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, max: limit, window: window}
}

func (l *RedisLimiter) key(key string, start time.Time) string {
	return l.prefix + "ratelimit:" + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start, weight, resetAt := slidingWindow(now, l.window)
	keys := []string{l.key(key, start), l.key(key, start.Add(-l.window))}

	res, err := slidingWindowScript.Run(ctx, l.client, keys,
		l.max,
		strconv.FormatFloat(weight, 'f', 6, 64),
		(2 * l.window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "rate limit script")
	}
	if len(res) != 2 {
		return Decision{}, errors.Errorf("rate limit script: unexpected reply %v", res)
	}
	return Decision{Allowed: res[0] == 1, Remaining: int(res[1]), ResetAt: resetAt}, nil
}

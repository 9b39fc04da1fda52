package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storeadmin/pkg/httpmiddleware"
)

const rateLimitPrefix = "storeadmin:ratelimit:"

// slidingWindow increments the current fixed-window counter unless the
// weighted sum with the previous window already reached the limit.
// KEYS: current, previous. ARGV: limit, window ms, ms elapsed in window.
// Returns {allowed, remaining}.
const slidingWindow = `
local curr = tonumber(redis.call('GET', KEYS[1]) or '0')
local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local elapsed = tonumber(ARGV[3])
local used = prev * (window - elapsed) / window + curr
if used >= limit then
	return {0, 0}
end
if redis.call('INCR', KEYS[1]) == 1 then
	redis.call('PEXPIRE', KEYS[1], window * 2)
end
local remaining = math.floor(limit - used - 1)
if remaining < 0 then
	remaining = 0
end
return {1, remaining}
`

// Evaler runs Lua scripts. *redis.Client implements it.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RateLimiter is an httpmiddleware.Limiter whose counters live in Redis, so
// every API replica draws from the same budget.
type RateLimiter struct {
	rdb    Evaler
	limit  int
	window time.Duration
}

var _ httpmiddleware.Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a RateLimiter allowing limit requests per window.
func NewRateLimiter(rdb Evaler, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(l.window)
	idx := start.UnixMilli() / l.window.Milliseconds()
	d := httpmiddleware.Decision{ResetAt: start.Add(l.window)}

	// The hash tag keeps both windows of a key in one cluster slot.
	base := rateLimitPrefix + "{" + key + "}:"
	keys := []string{base + strconv.FormatInt(idx, 10), base + strconv.FormatInt(idx-1, 10)}

	res, err := l.rdb.Eval(ctx, slidingWindow, keys,
		l.limit, l.window.Milliseconds(), now.Sub(start).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return d, errors.Wrap(err, "eval rate limit")
	}
	if len(res) != 2 {
		return d, errors.Errorf("unexpected rate limit reply %v", res)
	}
	d.Allowed = res[0] == 1
	d.Remaining = int(res[1])
	return d, nil
}

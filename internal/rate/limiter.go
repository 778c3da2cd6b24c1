package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowLua trims, counts and conditionally records in one round trip.
// KEYS[1] = window log (ZSET)
// KEYS[2] = member sequence
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = limit
//
// Returns {allowed, remaining, reset_ms, retry_ms}.
var slidingWindowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])

local allowed = 0
if count < limit then
  local seq = redis.call('INCR', KEYS[2])
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[1] .. '-' .. seq)
  count = count + 1
  allowed = 1
end

redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[2])

local reset = now + window
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #oldest == 2 then
  reset = tonumber(oldest[2]) + window
end

local retry = 0
if allowed == 0 then
  retry = reset - now
end

local remaining = limit - count
if remaining < 0 then
  remaining = 0
end

return {allowed, remaining, reset, retry}
`)

// peekWindowLua reports the window state without recording an operation.
// KEYS[1] = window log (ZSET)
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
//
// Returns {count, reset_ms}.
var peekWindowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])

local reset = now + window
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #oldest == 2 then
  reset = tonumber(oldest[2]) + window
end

return {count, reset}
`)

// Policy is a quota over a trailing window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) validate() error {
	if p.Limit <= 0 || p.Window < time.Millisecond {
		return ErrInvalidPolicy
	}
	return nil
}

// Decision is the outcome of one limiter call. Remaining and ResetAt are
// populated for both allowed and denied calls.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Config holds limiter construction parameters.
type Config struct {
	// Prefix namespaces every key. Defaults to "gir".
	Prefix string
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Limiter evaluates sliding-window policies against Redis.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "gir"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		redis:  redisClient,
		prefix: cfg.Prefix,
		now:    cfg.Now,
	}
}

// Allow records one operation for key if the policy permits it. A denied call
// returns the Decision together with [ErrRateLimited] and records nothing.
func (l *Limiter) Allow(ctx context.Context, key string, policy Policy) (Decision, error) {
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}

	now := l.now()
	nowMs := now.UnixMilli()

	result, err := slidingWindowLua.Run(ctx, l.redis,
		[]string{l.windowKey(key), l.sequenceKey(key)},
		nowMs,
		policy.Window.Milliseconds(),
		policy.Limit,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values, err := parseInt64Slice(result, 4)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	decision := Decision{
		Allowed:    values[0] == 1,
		Limit:      policy.Limit,
		Remaining:  int(values[1]),
		ResetAt:    time.UnixMilli(values[2]),
		RetryAfter: time.Duration(values[3]) * time.Millisecond,
	}
	if !decision.Allowed {
		return decision, ErrRateLimited
	}

	return decision, nil
}

// Peek reports the current state of key without consuming quota.
func (l *Limiter) Peek(ctx context.Context, key string, policy Policy) (Decision, error) {
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}

	nowMs := l.now().UnixMilli()

	result, err := peekWindowLua.Run(ctx, l.redis,
		[]string{l.windowKey(key)},
		nowMs,
		policy.Window.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values, err := parseInt64Slice(result, 2)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	remaining := policy.Limit - int(values[0])
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   remaining > 0,
		Limit:     policy.Limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(values[1]),
	}
	if !decision.Allowed {
		decision.RetryAfter = time.Duration(values[1]-nowMs) * time.Millisecond
	}

	return decision, nil
}

// Reset drops the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.windowKey(key), l.sequenceKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) windowKey(key string) string {
	return l.prefix + ":" + key
}

func (l *Limiter) sequenceKey(key string) string {
	return l.prefix + ":" + key + ":seq"
}

func parseInt64Slice(result interface{}, want int) ([]int64, error) {
	raw, ok := result.([]interface{})
	if !ok || len(raw) != want {
		return nil, errors.New("unexpected lua result shape")
	}

	values := make([]int64, want)
	for i, item := range raw {
		v, err := parseRedisInt64(item)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func parseRedisInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected lua value type %T", value)
	}
}

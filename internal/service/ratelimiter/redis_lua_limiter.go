// Package ratelimiter provides per-principal token buckets on Redis. Each
// endpoint class (generation, storage, workers, general) carries its own
// bucket configuration; the bucket key is class plus principal so one user
// cannot starve another.
package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one request under a class/principal pair proceeds.
type Limiter interface {
	Allow(ctx context.Context, class, principal string, cost int64) (Decision, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// BucketConfig declares a token bucket: capacity tokens, refilled at
// RefillRate tokens per second.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64
}

// PerWindow builds a bucket allowing count requests per window.
func PerWindow(count int, window time.Duration) BucketConfig {
	if count <= 0 || window <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(count),
		RefillRate: float64(count) / window.Seconds(),
	}
}

// RedisLuaLimiter implements Limiter with a Lua token bucket so the
// read-refill-take sequence is atomic under concurrent requests.
type RedisLuaLimiter struct {
	redis   *redis.Client
	buckets map[string]BucketConfig
	script  *redis.Script
	mu      sync.RWMutex
}

// NewRedisLuaLimiter constructs a limiter over the given class buckets.
// A nil client yields a nil limiter, which allows everything.
func NewRedisLuaLimiter(rdb *redis.Client, buckets map[string]BucketConfig) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &RedisLuaLimiter{
		redis:   rdb,
		buckets: buckets,
		script:  redis.NewScript(luaTokenBucketScript),
	}
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

if last_refill == nil then
  last_refill = now
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = shortage / refill_rate
  else
    retry_after = 0
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)

-- Script replies truncate Lua numbers to integers, so the wait is returned
-- in milliseconds to keep sub-second precision.
return { allowed, tokens, last_refill, math.ceil(retry_after * 1000) }
`

// Allow runs the token bucket for class/principal. Unknown classes and Redis
// outages fail open so rate limiting never becomes a hard outage.
func (l *RedisLuaLimiter) Allow(ctx context.Context, class, principal string, cost int64) (Decision, error) {
	if l == nil || l.redis == nil {
		return Decision{Allowed: true}, nil
	}
	l.mu.RLock()
	cfg, ok := l.buckets[class]
	l.mu.RUnlock()
	if !ok || cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return Decision{Allowed: true}, nil
	}
	if cost <= 0 {
		cost = 1
	}

	nowSec := float64(time.Now().UnixNano()) / 1e9
	redisKey := "rate:" + class + ":" + principal
	res, err := l.script.Run(ctx, l.redis, []string{redisKey}, cfg.Capacity, cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("redis rate limiter script error",
			slog.String("class", class),
			slog.Any("error", err))
		return Decision{Allowed: true, Limit: cfg.Capacity}, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		slog.Error("redis rate limiter unexpected script result",
			slog.String("class", class),
			slog.Any("result", res))
		return Decision{Allowed: true, Limit: cfg.Capacity}, nil
	}

	remaining := toFloat64(vals[1])
	if math.IsNaN(remaining) || remaining < 0 {
		remaining = 0
	}
	retryAfterMs := toFloat64(vals[3])
	d := Decision{
		Allowed:    toInt64(vals[0]) == 1,
		Limit:      cfg.Capacity,
		Remaining:  int64(remaining),
		RetryAfter: time.Duration(retryAfterMs) * time.Millisecond,
	}
	return d, nil
}

// SetBucketConfig updates or creates the bucket configuration for a class.
// Safe for concurrent use.
func (l *RedisLuaLimiter) SetBucketConfig(class string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets == nil {
		l.buckets = map[string]BucketConfig{}
	}
	l.buckets[class] = cfg
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return math.NaN()
	}
}

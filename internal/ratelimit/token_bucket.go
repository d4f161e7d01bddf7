package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Refill and take happen atomically server side. Returns
// {allowed, tokens_left_milli, now_ms}.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens * 1000), now}
`

var ErrBucketNotConfigured = errors.New("token_bucket_not_configured")

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Decision, error) {
	if t == nil || t.client == nil {
		return Decision{}, ErrBucketNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return Decision{}, errors.New("token bucket requires a key and positive rate and burst")
	}

	res, err := t.script.Run(ctx, t.client, []string{key},
		strconv.FormatFloat(rate, 'f', -1, 64),
		burst,
		bucketTTL(rate, burst).Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) < 3 {
		return Decision{}, errors.New("invalid token bucket response")
	}

	d := Decision{
		Allowed:   toInt64(res[0]) == 1,
		Remaining: float64(toInt64(res[1])) / 1000,
	}
	if !d.Allowed {
		d.RetryAfter = retryAfter(d.Remaining, rate)
	}
	return d, nil
}

// retryAfter is the time until one whole token has refilled.
func retryAfter(remaining, rate float64) time.Duration {
	needed := 1 - remaining
	if needed <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(needed / rate * float64(time.Second))
}

func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func toInt64(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	allowKeyPrefix    = "rl:allow:"
	debounceKeyPrefix = "rl:debounce:"
)

// tokenBucket refills, takes one token if available and stores the state,
// all in one server-side step. ARGV: rate, burst, now (unix seconds), ttl.
var tokenBucket = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('EXPIRE', KEYS[1], ttl)
return allowed
`)

// RedisBackend shares limiter state across processes
type RedisBackend struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisBackend uses client, which it closes on Close
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, now: time.Now}
}

func (b *RedisBackend) Allow(ctx context.Context, key string, ratePerSec float64, burst int) (bool, error) {
	now := float64(b.now().UnixMicro()) / 1e6
	ttl := int64(bucketTTL(ratePerSec, burst) / time.Second)

	allowed, err := tokenBucket.Run(ctx, b.client, []string{allowKeyPrefix + key},
		strconv.FormatFloat(ratePerSec, 'f', -1, 64),
		burst,
		strconv.FormatFloat(now, 'f', 6, 64),
		ttl,
	).Int()
	if err != nil {
		return false, err
	}
	return allowed == 1, nil
}

func (b *RedisBackend) Debounce(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	return b.client.SetNX(ctx, debounceKeyPrefix+key, 1, cooldown).Result()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Members are "<id>:<weight>" scored by admission time in milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = ARGV[2]
local weight = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
local member = ARGV[5]

redis.call("ZREMRANGEBYSCORE", key, "-inf", "(" .. window_start)
local entries = redis.call("ZRANGEBYSCORE", key, window_start, "+inf")
local current = 0
for _, entry in ipairs(entries) do
  local w = string.match(entry, ":(%d+)$")
  if w then
    current = current + tonumber(w)
  end
end

if weight > limit - current then
  return 0
end

redis.call("ZADD", key, ARGV[1], member .. ":" .. ARGV[3])
redis.call("PEXPIRE", key, ARGV[6])
return 1
`)

// RedisLimiter performs the sum and the add as one script, so there is no write/read race.
// Rejected attempts leave nothing behind.
type RedisLimiter struct {
	client  redis.UniversalClient
	prefix  string
	nowFunc func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{client: client, prefix: prefix, nowFunc: time.Now}
}

func (l *RedisLimiter) Admit(ctx context.Context, partitionKey string, weight int, window time.Duration, limit int) (bool, error) {
	if l.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	nowMS := l.nowFunc().UnixMilli()
	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		windowMS = 1
	}
	raw, err := slidingWindowScript.Run(
		ctx,
		l.client,
		[]string{l.prefix + ":" + partitionKey},
		nowMS,
		strconv.FormatInt(nowMS-windowMS, 10),
		weight,
		limit,
		uuid.New().String(),
		windowMS,
	).Int64()
	if err != nil {
		return false, err
	}
	return raw == 1, nil
}

package ingestlimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the window, checks room for cost entries and adds
// them atomically. Returns {allowed, count_after, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count + cost <= limit then
	for i = 1, cost do
		redis.call('ZADD', key, now, member .. ':' .. i)
	end
	count = count + cost
	allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_ms = now
if oldest[2] then
	oldest_ms = tonumber(oldest[2])
end
return {allowed, count, oldest_ms}
`)

// RedisStore implements Store with a sorted-set sliding window shared across
// replicas.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*Result, error) {
	now := s.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now,
		window.Milliseconds(),
		cost,
		limit,
		strconv.FormatInt(now, 10)+":"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ingest limit script: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("ingest limit script: unexpected reply length %d", len(res))
	}

	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   res[0] == 1,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(res[2]).Add(window),
		Limit:     limit,
	}, nil
}

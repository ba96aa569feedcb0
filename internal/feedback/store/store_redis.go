package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"focuswatch/internal/feedback/models"
	"focuswatch/pkg/platform/sentinel"
)

const (
	redisActionPrefix  = "feedback:action:"
	redisUserPrefix    = "feedback:user:"
	redisCounterPrefix = "feedback:rule:"
	redisTimeIndex     = "feedback:by_time"
	memberSep          = "\x1f"
)

// recordScript stores the action only if absent and bumps the rule counter
// in the same atomic step. Returns 1 when stored, 0 for an existing action.
var recordScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[4])
redis.call('HINCRBY', KEYS[4], ARGV[5], 1)
return 1
`)

// RedisStore shares actions and counters across replicas. Counters are hashes
// updated with HINCRBY, so AcceptanceRate is a single HMGET.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func actionKeyFor(userID, suggestionID string) string {
	return redisActionPrefix + userID + memberSep + suggestionID
}

func counterField(kind models.Kind) string {
	if kind == models.KindAccept {
		return "accepted"
	}
	return "rejected"
}

func (s *RedisStore) Record(ctx context.Context, a models.Action) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	score := a.Timestamp.UnixNano()
	stored, err := recordScript.Run(ctx, s.client,
		[]string{
			actionKeyFor(a.UserID, a.SuggestionID),
			redisUserPrefix + a.UserID,
			redisTimeIndex,
			redisCounterPrefix + a.RuleID,
		},
		string(data),
		score,
		a.SuggestionID,
		a.UserID+memberSep+a.SuggestionID,
		counterField(a.Kind),
	).Int()
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	if stored == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *RedisStore) Counts(ctx context.Context, ruleID string) (models.Counts, error) {
	c := models.Counts{RuleID: ruleID}
	vals, err := s.client.HMGet(ctx, redisCounterPrefix+ruleID, "accepted", "rejected").Result()
	if err != nil {
		return c, fmt.Errorf("read rule counters: %w", err)
	}
	if c.Accepted, err = counterValue(vals[0]); err != nil {
		return c, err
	}
	if c.Rejected, err = counterValue(vals[1]); err != nil {
		return c, err
	}
	return c, nil
}

func counterValue(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected counter type %T", v)
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter: %w", err)
	}
	return n, nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]models.Action, error) {
	suggestionIDs, err := s.client.ZRange(ctx, redisUserPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list user actions: %w", err)
	}
	if len(suggestionIDs) == 0 {
		return []models.Action{}, nil
	}
	keys := make([]string, len(suggestionIDs))
	for i, id := range suggestionIDs {
		keys[i] = actionKeyFor(userID, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load user actions: %w", err)
	}

	out := make([]models.Action, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Pruned between ZRANGE and MGET.
			continue
		}
		var a models.Action
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
		out = append(out, a)
	}
	sortActions(out)
	return out, nil
}

// Prune removes actions older than cutoff in batches; counters are kept.
func (s *RedisStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	upper := "(" + strconv.FormatInt(cutoff.UnixNano(), 10)
	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		members, err := s.client.ZRangeByScore(ctx, redisTimeIndex, &redis.ZRangeBy{
			Min: "-inf", Max: upper, Count: 500,
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("scan expired actions: %w", err)
		}
		if len(members) == 0 {
			return removed, nil
		}

		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range members {
				userID, suggestionID, ok := strings.Cut(m, memberSep)
				if !ok {
					pipe.ZRem(ctx, redisTimeIndex, m)
					continue
				}
				pipe.Del(ctx, actionKeyFor(userID, suggestionID))
				pipe.ZRem(ctx, redisUserPrefix+userID, suggestionID)
				pipe.ZRem(ctx, redisTimeIndex, m)
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("delete expired actions: %w", err)
		}
		removed += len(members)
	}
}

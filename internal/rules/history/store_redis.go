package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"focuswatch/internal/rules/models"
)

const keyPrefix = "rules:history:"

// RedisStore keeps each user's history as a JSON value that expires after ttl
// without updates.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, userID string) (*models.History, error) {
	data, err := s.client.Get(ctx, keyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewHistory(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rule history: %w", err)
	}
	h := models.NewHistory(userID)
	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("decode rule history: %w", err)
	}
	if h.Buckets == nil {
		h.Buckets = make(map[int64]int)
	}
	return h, nil
}

func (s *RedisStore) Save(ctx context.Context, h *models.History) error {
	if h == nil {
		return nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode rule history: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+h.UserID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save rule history: %w", err)
	}
	return nil
}

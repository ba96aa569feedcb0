//go:build integration

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focuswatch/internal/rules/models"
	"focuswatch/pkg/testutil/containers"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	s := NewRedisStore(rc.Client, time.Hour)

	fresh, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, fresh.Buckets)

	h := models.NewHistory("u1")
	h.Buckets[1709280000] = 42
	h.UpdatedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, h))

	loaded, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Buckets[1709280000])
	assert.True(t, h.UpdatedAt.Equal(loaded.UpdatedAt))

	ttl, err := rc.Client.TTL(ctx, keyPrefix+"u1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

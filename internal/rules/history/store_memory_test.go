package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focuswatch/internal/rules/models"
)

func TestInMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	fresh, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", fresh.UserID)
	assert.Empty(t, fresh.Buckets)

	h := models.NewHistory("u1")
	h.Buckets[3600] = 12
	require.NoError(t, s.Save(ctx, h))
	h.Buckets[3600] = 99

	loaded, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.Buckets[3600])

	loaded.Buckets[7200] = 1
	again, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.NotContains(t, again.Buckets, int64(7200))
}

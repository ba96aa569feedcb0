package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults with salt set", func(t *testing.T) {
		t.Setenv("PII_SALT", "pepper")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, BackendMemory, cfg.Store.Backend)
		assert.Equal(t, 30, cfg.Retention.Days)
		assert.Equal(t, 30*24*time.Hour, cfg.Retention.Horizon())
		assert.Equal(t, time.Hour, cfg.Retention.PruneInterval)
		assert.InDelta(t, 0.9, cfg.Suggestions.AutoExecConfidence, 1e-9)
		assert.Empty(t, cfg.Server.APIKeys)
		assert.Empty(t, cfg.Kafka.Brokers)
	})

	t.Run("missing salt fails", func(t *testing.T) {
		t.Setenv("PII_SALT", "")

		_, err := FromEnv()
		require.ErrorIs(t, err, ErrMissingSalt)
	})

	t.Run("lists are trimmed and deduplicated", func(t *testing.T) {
		t.Setenv("PII_SALT", "pepper")
		t.Setenv("API_KEYS", " k1, k2 ,k1,,")
		t.Setenv("PII_KEYS", "Window_Title, email")
		t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
		assert.Equal(t, []string{"window_title", "email"}, cfg.Privacy.PIIKeys)
		assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		cases := map[string]string{
			"AUTO_EXEC_CONFIDENCE":   "1.5",
			"RETENTION_DAYS":         "0",
			"PRUNE_INTERVAL_SECONDS": "abc",
			"STORE_TIMEOUT":          "soon",
			"STORE_BACKEND":          "mongo",
		}
		for key, value := range cases {
			t.Run(key, func(t *testing.T) {
				t.Setenv("PII_SALT", "pepper")
				t.Setenv(key, value)

				_, err := FromEnv()
				assert.Error(t, err)
			})
		}
	})

	t.Run("postgres requires a database url", func(t *testing.T) {
		t.Setenv("PII_SALT", "pepper")
		t.Setenv("STORE_BACKEND", "postgres")
		t.Setenv("DATABASE_URL", "")

		_, err := FromEnv()
		assert.Error(t, err)
	})
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "focuswatch/pkg/platform/strings"
)

// ErrMissingSalt is returned when PII_SALT is unset. There is no default:
// hashes must not be computable from a well-known salt.
var ErrMissingSalt = errors.New("PII_SALT is required")

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr       string
	APIKeys    []string
	AdminToken string
}

// StoreConfig selects and tunes the event/action persistence backend.
type StoreConfig struct {
	Backend     string
	DatabaseURL string
	SQLitePath  string
	Timeout     time.Duration
}

// RedisConfig holds Redis connection settings. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds audit relay settings. No brokers disables Kafka.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// Retention controls how long events and actions are kept.
type Retention struct {
	Days          int
	PruneInterval time.Duration
}

// Horizon returns the retention window as a duration.
func (r Retention) Horizon() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

// Privacy controls PII hashing during normalization.
type Privacy struct {
	Salt    string
	PIIKeys []string
}

// Suggestions tunes the query path.
type Suggestions struct {
	AutoExecConfidence float64
	Lookback           time.Duration
}

// Config is the full process configuration.
type Config struct {
	Server          Server
	Store           StoreConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	Retention       Retention
	Privacy         Privacy
	Suggestions     Suggestions
	IngestRateLimit int
	TuningFile      string
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	cfg := Config{
		Server: Server{
			Addr:       envOr("FOCUSWATCH_ADDR", ":8080"),
			APIKeys:    pstrings.SplitList(os.Getenv("API_KEYS")),
			AdminToken: os.Getenv("ADMIN_TOKEN"),
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(envOr("STORE_BACKEND", BackendMemory)),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			SQLitePath:  envOr("SQLITE_PATH", "focuswatch.db"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:    pstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envOr("KAFKA_AUDIT_TOPIC", "focuswatch.audit"),
		},
		Privacy: Privacy{
			Salt:    os.Getenv("PII_SALT"),
			PIIKeys: pstrings.SplitListLower(os.Getenv("PII_KEYS")),
		},
		TuningFile: os.Getenv("TUNING_FILE"),
	}

	var err error
	if cfg.Retention.Days, err = envInt("RETENTION_DAYS", 30); err != nil {
		return Config{}, err
	}
	if cfg.Retention.Days < 1 {
		return Config{}, fmt.Errorf("RETENTION_DAYS must be >= 1, got %d", cfg.Retention.Days)
	}
	pruneSeconds, err := envInt("PRUNE_INTERVAL_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}
	if pruneSeconds < 1 {
		return Config{}, fmt.Errorf("PRUNE_INTERVAL_SECONDS must be >= 1, got %d", pruneSeconds)
	}
	cfg.Retention.PruneInterval = time.Duration(pruneSeconds) * time.Second

	if cfg.Suggestions.AutoExecConfidence, err = envFloat("AUTO_EXEC_CONFIDENCE", 0.9); err != nil {
		return Config{}, err
	}
	if c := cfg.Suggestions.AutoExecConfidence; c < 0 || c > 1 {
		return Config{}, fmt.Errorf("AUTO_EXEC_CONFIDENCE must be in [0,1], got %v", c)
	}
	if cfg.Suggestions.Lookback, err = envDuration("SUGGESTION_LOOKBACK", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Store.Timeout, err = envDuration("STORE_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.IngestRateLimit, err = envInt("INGEST_RATE_LIMIT", 600); err != nil {
		return Config{}, err
	}

	switch cfg.Store.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if cfg.Store.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}

	if cfg.Privacy.Salt == "" {
		return Config{}, ErrMissingSalt
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

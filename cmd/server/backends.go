package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"focuswatch/internal/activity/service"
	activitystore "focuswatch/internal/activity/store"
	feedbackservice "focuswatch/internal/feedback/service"
	feedbackstore "focuswatch/internal/feedback/store"
	"focuswatch/internal/ingestlimit"
	"focuswatch/internal/platform/config"
	"focuswatch/internal/platform/database"
	"focuswatch/internal/platform/kafka"
	"focuswatch/internal/platform/redis"
	"focuswatch/internal/rules/history"
	suggestionservice "focuswatch/internal/suggestion/service"
	audit "focuswatch/pkg/platform/audit"
	"focuswatch/pkg/platform/audit/publisher"
	auditmemory "focuswatch/pkg/platform/audit/store/memory"
	"focuswatch/pkg/platform/audit/store/outbox"
	"focuswatch/pkg/platform/audit/worker"
	txcontext "focuswatch/pkg/platform/tx"
)

// backends groups the persistence choices made from config. Fields are nil
// when the corresponding dependency is not configured.
type backends struct {
	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer

	events     service.Store
	actions    feedbackservice.Store
	history    suggestionservice.HistoryStore
	limitStore ingestlimit.Store
	transactor txcontext.Transactor

	auditor   *publisher.Publisher
	outbox    *outbox.Store
	relay     *worker.Relay
	closeFunc []func()
}

func openBackends(ctx context.Context, cfg config.Config, log *slog.Logger) (*backends, error) {
	b := &backends{transactor: txcontext.NoopTransactor{}}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		b.redis = rc
		b.closeFunc = append(b.closeFunc, func() { _ = rc.Close() })
	}

	switch cfg.Store.Backend {
	case config.BackendPostgres, config.BackendSQLite:
		db, err := database.Open(ctx, cfg.Store)
		if err != nil {
			b.close()
			return nil, err
		}
		b.db = db
		b.closeFunc = append(b.closeFunc, func() { _ = db.Close() })
		b.events = activitystore.NewSQL(db)
		b.actions = feedbackstore.NewSQL(db)
		b.transactor = txcontext.SQLTransactor{DB: db}

		// Audit rows are written in the caller's transaction and relayed later.
		b.outbox = outbox.New(db)
		b.auditor = publisher.NewPublisher(b.outbox, publisher.WithLogger(log))
	default:
		b.events = activitystore.NewInMemoryStore()
		if rc != nil {
			b.actions = feedbackstore.NewRedisStore(rc.Client)
		} else {
			b.actions = feedbackstore.NewInMemoryStore()
		}
		b.auditor = publisher.NewPublisher(auditmemory.NewInMemoryStore(),
			publisher.WithLogger(log),
			publisher.WithAsyncBuffer(1024),
		)
	}
	b.closeFunc = append(b.closeFunc, b.auditor.Close)

	if rc != nil {
		// History outlives the anomaly baseline by a day.
		b.history = history.NewRedisStore(rc.Client, 8*24*time.Hour)
		b.limitStore = ingestlimit.NewRedisStore(rc.Client)
	} else {
		b.history = history.NewInMemoryStore()
		b.limitStore = ingestlimit.NewInMemoryStore()
	}

	if b.outbox != nil {
		producer, err := kafka.NewProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("audit relay: %w", err)
		}
		var sink worker.Sink = worker.LogSink{Logger: log}
		if producer != nil {
			b.producer = producer
			b.closeFunc = append(b.closeFunc, producer.Close)
			sink = producer
		}
		b.relay = worker.NewRelay(b.outbox, sink, log)
	}
	return b, nil
}

// auditEmitter returns the publisher as the interface services depend on.
func (b *backends) auditEmitter() audit.Emitter {
	return b.auditor
}

// close releases resources in reverse order of acquisition.
func (b *backends) close() {
	for i := len(b.closeFunc) - 1; i >= 0; i-- {
		b.closeFunc[i]()
	}
}

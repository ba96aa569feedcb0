// Package worker relays audit outbox entries to a message sink.
package worker

import (
	"context"
	"log/slog"
	"time"

	"focuswatch/pkg/platform/audit/store/outbox"
)

// Outbox is the subset of the outbox store the relay needs.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]outbox.Entry, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// Sink receives relayed payloads, keyed by aggregate (user) ID.
type Sink interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Relay polls the outbox and publishes entries in order. An entry is marked
// published only after the sink accepted it, so delivery is at-least-once.
type Relay struct {
	outbox    Outbox
	sink      Sink
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRelay(ob Outbox, sink Sink, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		outbox:    ob,
		sink:      sink,
		logger:    logger,
		interval:  2 * time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.logger.WarnContext(ctx, "audit relay pass failed", "error", err)
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries were relayed.
// It stops at the first sink failure to preserve ordering.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	entries, err := r.outbox.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := make([]string, 0, len(entries))
	var sinkErr error
	for _, e := range entries {
		if err := r.sink.Publish(ctx, e.AggregateID, e.Payload); err != nil {
			sinkErr = err
			break
		}
		published = append(published, e.ID)
	}

	if err := r.outbox.MarkPublished(ctx, published); err != nil {
		return 0, err
	}
	return len(published), sinkErr
}

// LogSink writes payloads to the logger. Used when no broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, key string, value []byte) error {
	s.Logger.InfoContext(ctx, "audit event", "key", key, "payload", string(value))
	return nil
}

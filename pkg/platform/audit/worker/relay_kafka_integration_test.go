//go:build integration

package worker_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"focuswatch/internal/platform/database"
	"focuswatch/internal/platform/kafka"
	audit "focuswatch/pkg/platform/audit"
	"focuswatch/pkg/platform/audit/store/outbox"
	"focuswatch/pkg/platform/audit/worker"
	"focuswatch/pkg/testutil/containers"
)

type KafkaRelaySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	kafka    *containers.KafkaContainer
	topic    string
	producer *kafka.Producer
	outbox   *outbox.Store
}

func TestKafkaRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaRelaySuite))
}

func (s *KafkaRelaySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.kafka = mgr.GetKafka(s.T())
	s.Require().NoError(database.Migrate(context.Background(), s.postgres.DB))
	s.outbox = outbox.New(s.postgres.DB)
}

func (s *KafkaRelaySuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "audit_outbox"))
	s.topic = "focuswatch-audit-" + uuid.NewString()[:8]
	s.kafka.CreateTopic(ctx, s.T(), s.topic)

	producer, err := kafka.NewProducer(ctx, []string{s.kafka.Broker}, s.topic)
	s.Require().NoError(err)
	s.producer = producer
}

func (s *KafkaRelaySuite) TearDownTest() {
	s.producer.Close()
}

func (s *KafkaRelaySuite) consume(n int) []*kgo.Record {
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.kafka.Broker),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var records []*kgo.Record
	for len(records) < n {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "timed out after %d of %d records", len(records), n)
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
	}
	return records
}

func (s *KafkaRelaySuite) TestRelayPublishesOutboxKeyedByUser() {
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{Timestamp: t0, UserID: "u1", Subject: "sg-1", RuleID: "context_switch", Action: string(audit.EventSuggestionAccepted)},
		{Timestamp: t0.Add(time.Second), UserID: "u2", Subject: "sg-9", RuleID: "deep_work", Action: string(audit.EventSuggestionRejected)},
		{Timestamp: t0.Add(2 * time.Second), Subject: "events", Action: string(audit.EventRetentionPruned), Count: 42},
	}
	for _, e := range events {
		s.Require().NoError(s.outbox.Append(ctx, e))
	}

	relay := worker.NewRelay(s.outbox, s.producer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	relayed, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(3, relayed)

	pending, err := s.outbox.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)

	records := s.consume(3)
	s.Require().Len(records, 3)
	keys := make(map[string]string, len(records))
	decoded := make(map[string]audit.Event, len(records))
	for _, r := range records {
		_, e, err := audit.Decode(r.Value)
		s.Require().NoError(err)
		keys[e.Subject] = string(r.Key)
		decoded[e.Subject] = e
	}
	s.Equal("u1", keys["sg-1"])
	s.Equal("u2", keys["sg-9"])
	s.NotEmpty(keys["events"], "system events are keyed by their own id")
	s.Equal(audit.CategoryFeedback, decoded["sg-1"].Category)
	s.Equal(audit.CategoryOperations, decoded["events"].Category)
	s.Equal(42, decoded["events"].Count)

	again, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Zero(again, "published entries are not relayed twice")
}

func (s *KafkaRelaySuite) TestProducerHealth() {
	s.NoError(s.producer.Health(context.Background()))
}

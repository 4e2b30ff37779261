//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"idrelay/internal/lifecycle/events"
	"idrelay/internal/lifecycle/models"
	"idrelay/internal/platform/kafka/producer"
	"idrelay/pkg/testutil/containers"
)

// RelayKafkaSuite drains outbox rows through the real producer into a
// Kafka-compatible broker and reads them back.
type RelayKafkaSuite struct {
	suite.Suite
	broker string
	logger *slog.Logger
	ctx    context.Context
}

func TestRelayKafkaSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelayKafkaSuite))
}

func (s *RelayKafkaSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.broker = containers.NewRedpandaContainer(s.T()).Broker
}

func (s *RelayKafkaSuite) TestDrainDeliversToBroker() {
	const topic = "idrelay.lifecycle"

	prod, err := producer.New(s.ctx, []string{s.broker}, topic, s.logger)
	s.Require().NoError(err)
	defer prod.Close()

	store := NewMemory()
	entityID := uuid.New()
	s.Require().NoError(store.Publish(s.ctx, events.Event{
		Name:       events.Name(models.KindPatient, events.ActionSoftDeleted),
		EntityID:   entityID,
		Kind:       models.KindPatient,
		OccurredAt: time.Now().UTC(),
	}))

	relay := NewRelay(store, prod, time.Second, s.logger)
	s.Require().NoError(relay.drain(s.ctx))

	s.Run("row is marked published", func() {
		rows, err := store.FetchUnpublished(s.ctx, 10)
		s.Require().NoError(err)
		s.Empty(rows)
	})

	s.Run("record is readable from the broker", func() {
		consumer, err := kgo.NewClient(
			kgo.SeedBrokers(s.broker),
			kgo.ConsumeTopics(topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
		s.Require().NoError(err)
		defer consumer.Close()

		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(fetches.Err())

		records := fetches.Records()
		s.Require().Len(records, 1)
		s.Equal(entityID.String(), string(records[0].Key))

		var event events.Event
		s.Require().NoError(json.Unmarshal(records[0].Value, &event))
		s.Equal("idrelay.patient.soft_deleted", event.Name)
		s.Equal(entityID, event.EntityID)
	})
}

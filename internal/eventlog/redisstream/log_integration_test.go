//go:build integration

package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idrelay/internal/webhook/models"
	"idrelay/pkg/testutil/containers"
)

const (
	itStream = "events:it"
	itGroup  = "idrelay"
)

type RedisLogSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	log   *Log
	ctx   context.Context
}

func TestRedisLogSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLogSuite))
}

func (s *RedisLogSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.ctx = context.Background()
}

func (s *RedisLogSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.log = New(s.redis.Client)
}

func (s *RedisLogSuite) event(subject string) models.InboundEvent {
	return models.InboundEvent{
		Type:       models.TypeRegister,
		Origin:     "account",
		SubjectID:  subject,
		OccurredAt: time.Now().UTC().Truncate(time.Second),
		Details:    map[string]string{"email": subject + "@example.com"},
	}
}

func (s *RedisLogSuite) TestAppendAndReadRoundTrip() {
	id, err := s.log.Append(s.ctx, itStream, s.event("s1"))
	s.Require().NoError(err)
	s.NotEmpty(id)

	entries, err := s.log.ReadPending(s.ctx, itStream, itGroup, "c1", 10, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(id, entries[0].ID)
	s.Equal(int64(1), entries[0].Attempts)
	s.Equal("s1", entries[0].Event.SubjectID)
	s.Equal(models.TypeRegister, entries[0].Event.Type)
	s.Equal("s1@example.com", entries[0].Event.Details["email"])
}

func (s *RedisLogSuite) TestUnackedEntriesAreExclusive() {
	_, err := s.log.Append(s.ctx, itStream, s.event("s1"))
	s.Require().NoError(err)

	first, err := s.log.ReadPending(s.ctx, itStream, itGroup, "c1", 10, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(first, 1)

	// The entry belongs to c1 until acked or reclaimed.
	second, err := s.log.ReadPending(s.ctx, itStream, itGroup, "c2", 10, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Empty(second)
}

func (s *RedisLogSuite) TestAckClearsPending() {
	id, err := s.log.Append(s.ctx, itStream, s.event("s1"))
	s.Require().NoError(err)

	_, err = s.log.ReadPending(s.ctx, itStream, itGroup, "c1", 10, 100*time.Millisecond)
	s.Require().NoError(err)

	count, err := s.log.PendingCount(s.ctx, itStream, itGroup)
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	s.Require().NoError(s.log.Ack(s.ctx, itStream, itGroup, id))

	count, err = s.log.PendingCount(s.ctx, itStream, itGroup)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *RedisLogSuite) TestReclaimStaleTransfersOwnership() {
	id, err := s.log.Append(s.ctx, itStream, s.event("s1"))
	s.Require().NoError(err)

	_, err = s.log.ReadPending(s.ctx, itStream, itGroup, "c1", 10, 100*time.Millisecond)
	s.Require().NoError(err)

	// Nothing is idle long enough yet.
	reclaimed, err := s.log.ReclaimStale(s.ctx, itStream, itGroup, "c2", time.Hour, 10)
	s.Require().NoError(err)
	s.Empty(reclaimed)

	// Zero idle threshold reclaims immediately, simulating a crashed c1.
	reclaimed, err = s.log.ReclaimStale(s.ctx, itStream, itGroup, "c2", 0, 10)
	s.Require().NoError(err)
	s.Require().Len(reclaimed, 1)
	s.Equal(id, reclaimed[0].ID)
	s.GreaterOrEqual(reclaimed[0].Attempts, int64(2))
}

func (s *RedisLogSuite) TestPendingCountWithoutGroup() {
	count, err := s.log.PendingCount(s.ctx, "events:nonexistent", itGroup)
	s.Require().NoError(err)
	s.Zero(count)
}

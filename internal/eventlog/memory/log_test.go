package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idrelay/internal/webhook/models"
)

type MemoryLogSuite struct {
	suite.Suite
	log *Log
	ctx context.Context
	now time.Time
}

func TestMemoryLogSuite(t *testing.T) {
	suite.Run(t, new(MemoryLogSuite))
}

func (s *MemoryLogSuite) SetupTest() {
	s.log = New()
	s.ctx = context.Background()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.log.Now = func() time.Time { return s.now }
}

func (s *MemoryLogSuite) event(subject string) models.InboundEvent {
	return models.InboundEvent{
		Type:       models.TypeLogin,
		SubjectID:  subject,
		OccurredAt: s.now,
	}
}

func (s *MemoryLogSuite) TestAppendAndRead() {
	s.Run("append returns increasing ids", func() {
		id1, err := s.log.Append(s.ctx, "events:a", s.event("s1"))
		s.Require().NoError(err)
		id2, err := s.log.Append(s.ctx, "events:a", s.event("s2"))
		s.Require().NoError(err)
		s.NotEqual(id1, id2)
	})

	s.Run("read delivers in append order with attempts one", func() {
		entries, err := s.log.ReadPending(s.ctx, "events:a", "g", "c1", 10, 0)
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal("s1", entries[0].Event.SubjectID)
		s.Equal("s2", entries[1].Event.SubjectID)
		s.Equal(int64(1), entries[0].Attempts)
	})

	s.Run("unacked entries are not redelivered by read", func() {
		entries, err := s.log.ReadPending(s.ctx, "events:a", "g", "c2", 10, 0)
		s.Require().NoError(err)
		s.Empty(entries)
	})
}

func (s *MemoryLogSuite) TestAckRemovesFromPending() {
	id, err := s.log.Append(s.ctx, "events:a", s.event("s1"))
	s.Require().NoError(err)

	_, err = s.log.ReadPending(s.ctx, "events:a", "g", "c1", 1, 0)
	s.Require().NoError(err)

	count, err := s.log.PendingCount(s.ctx, "events:a", "g")
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	s.Require().NoError(s.log.Ack(s.ctx, "events:a", "g", id))
	s.True(s.log.Acked("events:a", id))

	count, err = s.log.PendingCount(s.ctx, "events:a", "g")
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *MemoryLogSuite) TestReclaimStale() {
	id, err := s.log.Append(s.ctx, "events:a", s.event("s1"))
	s.Require().NoError(err)

	entries, err := s.log.ReadPending(s.ctx, "events:a", "g", "c1", 1, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("c1", s.log.Owner("events:a", id))

	s.Run("fresh entries are not reclaimed", func() {
		reclaimed, err := s.log.ReclaimStale(s.ctx, "events:a", "g", "c2", time.Minute, 10)
		s.Require().NoError(err)
		s.Empty(reclaimed)
		s.Equal("c1", s.log.Owner("events:a", id))
	})

	s.Run("stalled entries transfer and bump attempts", func() {
		s.now = s.now.Add(2 * time.Minute)
		reclaimed, err := s.log.ReclaimStale(s.ctx, "events:a", "g", "c2", time.Minute, 10)
		s.Require().NoError(err)
		s.Require().Len(reclaimed, 1)
		s.Equal(id, reclaimed[0].ID)
		s.Equal(int64(2), reclaimed[0].Attempts)
		s.Equal("c2", s.log.Owner("events:a", id))
	})

	s.Run("acked entries are never reclaimed", func() {
		s.Require().NoError(s.log.Ack(s.ctx, "events:a", "g", id))
		s.now = s.now.Add(time.Hour)
		reclaimed, err := s.log.ReclaimStale(s.ctx, "events:a", "g", "c3", time.Minute, 10)
		s.Require().NoError(err)
		s.Empty(reclaimed)
	})
}

func (s *MemoryLogSuite) TestStreamsAreIndependent() {
	_, err := s.log.Append(s.ctx, "events:a", s.event("s1"))
	s.Require().NoError(err)
	_, err = s.log.Append(s.ctx, "events:b", s.event("s2"))
	s.Require().NoError(err)

	entries, err := s.log.ReadPending(s.ctx, "events:b", "g", "c1", 10, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("s2", entries[0].Event.SubjectID)
}

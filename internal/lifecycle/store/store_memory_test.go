package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"idrelay/internal/lifecycle/models"
	"idrelay/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) newEntity(subject string) *models.Entity {
	return &models.Entity{
		ID:        uuid.New(),
		SubjectID: subject,
		Kind:      models.KindPatient,
		Email:     subject + "@example.com",
		IsActive:  true,
	}
}

func (s *MemoryStoreSuite) TestCreateAndLookups() {
	entity := s.newEntity("subject-1")
	s.Require().NoError(s.store.Create(s.ctx, entity))

	s.Run("find by id and subject", func() {
		byID, err := s.store.FindByID(s.ctx, entity.ID)
		s.Require().NoError(err)
		s.Equal("subject-1", byID.SubjectID)

		bySubject, err := s.store.FindBySubject(s.ctx, "subject-1")
		s.Require().NoError(err)
		s.Equal(entity.ID, bySubject.ID)
	})

	s.Run("duplicate live subject conflicts", func() {
		s.ErrorIs(s.store.Create(s.ctx, s.newEntity("subject-1")), sentinel.ErrConflict)
	})

	s.Run("missing rows return not found", func() {
		_, err := s.store.FindByID(s.ctx, uuid.New())
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.ErrorIs(s.store.Update(s.ctx, s.newEntity("ghost")), sentinel.ErrNotFound)
	})

	s.Run("returned values are copies", func() {
		found, err := s.store.FindByID(s.ctx, entity.ID)
		s.Require().NoError(err)
		found.Email = "mutated@example.com"

		again, err := s.store.FindByID(s.ctx, entity.ID)
		s.Require().NoError(err)
		s.Equal("subject-1@example.com", again.Email)
	})
}

func (s *MemoryStoreSuite) TestAnonymizedQueries() {
	now := time.Now()
	deletedAt := now.Add(-10 * 24 * time.Hour)

	anonymized := s.newEntity("gone")
	s.Require().NoError(s.store.Create(s.ctx, anonymized))
	anonymized.SoftDeletedAt = &deletedAt
	anonymized.AnonymizedAt = &now
	anonymized.CorrelationHash = "hash-1"
	anonymized.SubjectID = "anonymized:" + anonymized.ID.String()
	s.Require().NoError(s.store.Update(s.ctx, anonymized))

	deleted := s.newEntity("deleted")
	s.Require().NoError(s.store.Create(s.ctx, deleted))
	deleted.SoftDeletedAt = &deletedAt
	s.Require().NoError(s.store.Update(s.ctx, deleted))

	s.Run("anonymized subject frees the original subject id", func() {
		s.NoError(s.store.Create(s.ctx, s.newEntity("gone")))
	})

	s.Run("correlation hash lookup returns the anonymized row", func() {
		found, err := s.store.FindAnonymizedByCorrelationHash(s.ctx, "hash-1")
		s.Require().NoError(err)
		s.Equal(anonymized.ID, found.ID)

		_, err = s.store.FindAnonymizedByCorrelationHash(s.ctx, "other")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("hash lookup prefers the most recently anonymized", func() {
		later := now.Add(time.Hour)
		second := s.newEntity("gone-2")
		s.Require().NoError(s.store.Create(s.ctx, second))
		second.SoftDeletedAt = &deletedAt
		second.AnonymizedAt = &later
		second.CorrelationHash = "hash-1"
		s.Require().NoError(s.store.Update(s.ctx, second))

		found, err := s.store.FindAnonymizedByCorrelationHash(s.ctx, "hash-1")
		s.Require().NoError(err)
		s.Equal(second.ID, found.ID)
	})

	s.Run("due listing honors cutoff and skips anonymized", func() {
		due, err := s.store.ListDueForAnonymization(s.ctx, now.Add(-7*24*time.Hour), 10)
		s.Require().NoError(err)
		s.Require().Len(due, 1)
		s.Equal(deleted.ID, due[0].ID)

		due, err = s.store.ListDueForAnonymization(s.ctx, now.Add(-30*24*time.Hour), 10)
		s.Require().NoError(err)
		s.Empty(due)
	})

	s.Run("soft-deleted listing skips anonymized and active", func() {
		pending, err := s.store.ListSoftDeleted(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.Equal(deleted.ID, pending[0].ID)
	})
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"idrelay/internal/lifecycle/models"
	"idrelay/pkg/platform/sentinel"
)

// MemoryStore keeps entities in a map. Values are copied on the way in and
// out so callers can't mutate stored state behind the store's back.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[uuid.UUID]*models.Entity
}

func NewMemory() *MemoryStore {
	return &MemoryStore{entities: make(map[uuid.UUID]*models.Entity)}
}

func (s *MemoryStore) Create(_ context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entities {
		if e.SubjectID == entity.SubjectID && !e.Anonymized() {
			return sentinel.ErrConflict
		}
	}
	if _, ok := s.entities[entity.ID]; ok {
		return sentinel.ErrConflict
	}
	now := time.Now()
	entity.CreatedAt = now
	entity.UpdatedAt = now
	s.entities[entity.ID] = copyEntity(entity)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entity.ID]; !ok {
		return sentinel.ErrNotFound
	}
	entity.UpdatedAt = time.Now()
	s.entities[entity.ID] = copyEntity(entity)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyEntity(e), nil
}

func (s *MemoryStore) FindBySubject(_ context.Context, subjectID string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entities {
		if e.SubjectID == subjectID && !e.Anonymized() {
			return copyEntity(e), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) FindAnonymizedByCorrelationHash(_ context.Context, hash string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Entity
	for _, e := range s.entities {
		if !e.Anonymized() || e.CorrelationHash != hash {
			continue
		}
		if best == nil || e.AnonymizedAt.After(*best.AnonymizedAt) {
			best = e
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	return copyEntity(best), nil
}

func (s *MemoryStore) ListDueForAnonymization(_ context.Context, cutoff time.Time, limit int) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Entity
	for _, e := range s.entities {
		if e.SoftDeleted() && !e.Anonymized() && e.SoftDeletedAt.Before(cutoff) {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SoftDeletedAt.Before(*out[j].SoftDeletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListSoftDeleted(_ context.Context) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Entity
	for _, e := range s.entities {
		if e.SoftDeleted() && !e.Anonymized() {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SoftDeletedAt.Before(*out[j].SoftDeletedAt) })
	return out, nil
}

func copyEntity(e *models.Entity) *models.Entity {
	c := *e
	if e.SoftDeletedAt != nil {
		t := *e.SoftDeletedAt
		c.SoftDeletedAt = &t
	}
	if e.AnonymizedAt != nil {
		t := *e.AnonymizedAt
		c.AnonymizedAt = &t
	}
	if e.LastLoginAt != nil {
		t := *e.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

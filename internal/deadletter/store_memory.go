package deadletter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-memory twin of RedisStore for unit tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry // keyed by main stream name
}

func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.DeadLetteredAt.IsZero() {
		e.DeadLetteredAt = time.Now()
	}
	s.entries[e.Stream] = append(s.entries[e.Stream], e)
	return nil
}

func (s *MemoryStore) List(_ context.Context, stream string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.entries[stream]
	out := make([]Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, stream string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries[stream])), nil
}

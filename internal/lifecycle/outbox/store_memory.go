package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"idrelay/internal/lifecycle/events"
)

// MemoryStore is the in-memory twin of PostgresStore. It ignores the tx
// context; unit tests don't exercise transactionality.
type MemoryStore struct {
	mu   sync.Mutex
	rows []Row
}

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Publish(_ context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, Row{
		ID:        uuid.New(),
		EventName: event.Name,
		EntityID:  event.EntityID,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) FetchUnpublished(_ context.Context, limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Row
	for _, r := range s.rows {
		if len(out) >= limit {
			break
		}
		if r.PublishedAt == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range s.rows {
		if want[s.rows[i].ID] {
			s.rows[i].PublishedAt = &now
		}
	}
	return nil
}

// Package outbox implements the transactional outbox for domain events.
// Events are inserted in the same SQL transaction as the entity mutation,
// so an event exists iff its mutation committed; the relay worker then
// pushes rows to Kafka and marks them published. A broker outage delays
// fan-out but never loses or invents events.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"idrelay/internal/lifecycle/events"
)

// Row is one stored outbox entry.
type Row struct {
	ID          uuid.UUID
	EventName   string
	EntityID    uuid.UUID
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Store persists and drains outbox rows. Append must participate in the
// caller's transaction when one is present in the context.
type Store interface {
	events.Publisher
	// FetchUnpublished returns the oldest unpublished rows.
	FetchUnpublished(ctx context.Context, limit int) ([]Row, error)
	// MarkPublished stamps rows as relayed.
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Package eventlog defines the durable log the ingestion path appends to
// and the consumer loop reads from. The contract is at-least-once: an entry
// is visible to one consumer at a time while unacked, but may be redelivered
// after a reclaim, so handlers must tolerate duplicates.
package eventlog

import (
	"context"
	"time"

	"idrelay/internal/webhook/models"
)

// Entry is one appended event plus the delivery metadata the log tracks.
// The event itself is immutable once appended; only delivery metadata
// (owning consumer, attempt count, ack state) changes.
type Entry struct {
	// ID is the log-assigned entry id, monotonically increasing within a
	// stream for first delivery.
	ID     string
	Stream string
	// Attempts counts deliveries including this one. First delivery is 1.
	Attempts int64
	Event    models.InboundEvent
	// Raw and DecodeErr are set when the stored payload could not be
	// decoded. Such entries carry a zero Event and are dead-lettered by the
	// consumer with the original bytes intact; they are never routed.
	Raw       []byte
	DecodeErr string
}

// Log is the durable event log.
type Log interface {
	// Append durably stores the event and returns the assigned entry id.
	// Never blocks on consumers.
	Append(ctx context.Context, stream string, event models.InboundEvent) (string, error)

	// ReadPending claims up to count entries not yet delivered to the
	// group, blocking up to block when none are available. Claimed entries
	// stay pending for this consumer until acked.
	ReadPending(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Entry, error)

	// Ack removes the entry from the group's pending set.
	Ack(ctx context.Context, stream, group, id string) error

	// ReclaimStale transfers entries held by any consumer for longer than
	// minIdle to the calling consumer, incrementing their attempt count.
	// This is the crash-recovery path.
	ReclaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Entry, error)

	// PendingCount reports the group's unacknowledged entry count (lag).
	PendingCount(ctx context.Context, stream, group string) (int64, error)
}

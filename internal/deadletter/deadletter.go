// Package deadletter stores entries that failed processing beyond the retry
// budget, or failed permanently, with enough diagnostic payload for manual
// inspection and replay.
package deadletter

//go:generate mockgen -source=deadletter.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one dead-lettered log entry.
type Entry struct {
	EntryID        string          `json:"entry_id"`
	Stream         string          `json:"stream"`
	EventType      string          `json:"event_type"`
	SubjectID      string          `json:"subject_id"`
	Payload        json.RawMessage `json:"payload"`
	Attempts       int64           `json:"attempts"`
	Reason         string          `json:"reason"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at"`
}

// Store is the dead-letter store. Append-only; the service never trims it.
// Entry.Stream and the stream arguments name the MAIN stream; the store
// derives its own dead-letter stream name from it.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// List returns the most recent entries for a stream, newest first.
	List(ctx context.Context, stream string, limit int) ([]Entry, error)
	Count(ctx context.Context, stream string) (int64, error)
}

// StreamName returns the dead-letter stream paired with a main stream.
func StreamName(stream string) string {
	return stream + ":deadletter"
}

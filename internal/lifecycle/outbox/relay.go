package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sink is the downstream the relay pushes events to (Kafka in production).
type Sink interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Relay drains unpublished outbox rows into the sink. At-least-once: a
// crash between publish and mark re-publishes the row, and consumers
// deduplicate on the outbox row id carried in the payload envelope.
type Relay struct {
	store    Store
	sink     Sink
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewRelay(store Store, sink Sink, interval time.Duration, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		store:    store,
		sink:     sink,
		interval: interval,
		batch:    64,
		logger:   logger,
	}
}

// Run polls until the context is canceled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	rows, err := r.store.FetchUnpublished(ctx, r.batch)
	if err != nil {
		return err
	}

	var published []uuid.UUID
	for _, row := range rows {
		// Key by entity so all events for one entity land on one partition.
		if err := r.sink.Publish(ctx, row.EntityID.String(), row.Payload); err != nil {
			r.logger.Warn("publish outbox row failed, will retry",
				"outbox_id", row.ID,
				"event", row.EventName,
				"error", err,
			)
			break // keep ordering: don't publish newer rows past a failure
		}
		published = append(published, row.ID)
	}

	if len(published) == 0 {
		return nil
	}
	return r.store.MarkPublished(ctx, published)
}

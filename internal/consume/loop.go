// Package consume runs the long-lived consumer loop over the durable log.
// Several loops may run in parallel under one consumer-group name; the log
// guarantees no two see the same unacked entry, so handlers only need to be
// idempotent across redeliveries, not reentrant across consumers.
package consume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"idrelay/internal/deadletter"
	"idrelay/internal/dispatch"
	"idrelay/internal/eventlog"
	"idrelay/internal/platform/metrics"
)

// Config tunes the loop.
type Config struct {
	Streams       []string
	Group         string
	Consumer      string
	BatchSize     int
	PollTimeout   time.Duration
	IdleThreshold time.Duration
	MaxAttempts   int
}

// Loop pulls entries, routes them, and acks / retries / dead-letters
// according to the handler outcome.
type Loop struct {
	log        eventlog.Log
	dead       deadletter.Store
	dispatcher *dispatch.Dispatcher
	cfg        Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(log eventlog.Log, dead deadletter.Store, dispatcher *dispatch.Dispatcher, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Loop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Loop{
		log:        log,
		dead:       dead,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
	}
}

// Run reads and processes entries until the context is canceled. The
// in-flight entry is finished before the loop stops; nothing is acked
// before its side effects are committed.
func (l *Loop) Run(ctx context.Context) error {
	// A loop with nothing to read would spin without ever blocking.
	if len(l.cfg.Streams) == 0 {
		return errors.New("no streams configured")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, stream := range l.cfg.Streams {
			entries, err := l.log.ReadPending(ctx, stream, l.cfg.Group, l.cfg.Consumer, l.cfg.BatchSize, l.cfg.PollTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.logger.Error("read pending failed", "stream", stream, "error", err)
				// Backing store hiccup: back off briefly instead of spinning.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
				}
				continue
			}
			for _, entry := range entries {
				l.Process(ctx, entry)
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
	}
}

// RunReclaimer periodically reclaims entries stuck with a stalled consumer
// and feeds them through the normal processing path. The tick matches the
// idle threshold, so a crashed consumer's entries are redelivered within
// roughly two thresholds.
func (l *Loop) RunReclaimer(ctx context.Context) error {
	if len(l.cfg.Streams) == 0 {
		return errors.New("no streams configured")
	}
	ticker := time.NewTicker(l.cfg.IdleThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, stream := range l.cfg.Streams {
				entries, err := l.log.ReclaimStale(ctx, stream, l.cfg.Group, l.cfg.Consumer, l.cfg.IdleThreshold, l.cfg.BatchSize)
				if err != nil {
					l.logger.Error("reclaim failed", "stream", stream, "error", err)
					continue
				}
				if len(entries) > 0 {
					l.logger.Info("reclaimed stale entries", "stream", stream, "count", len(entries))
				}
				for _, entry := range entries {
					l.Process(ctx, entry)
				}
			}
		}
	}
}

// Process handles one claimed entry end to end. Exported for tests that
// drive entries through without the poll loop.
func (l *Loop) Process(ctx context.Context, entry eventlog.Entry) {
	eventType := string(entry.Event.Type)

	// An entry whose stored payload did not decode can never route. It is
	// dead-lettered with the original bytes so an operator can inspect it.
	if entry.DecodeErr != "" {
		l.metrics.IncProcessed(eventType, "malformed")
		l.logger.Error("undecodable entry, dead-lettering",
			"stream", entry.Stream,
			"entry_id", entry.ID,
			"error", entry.DecodeErr,
		)
		l.deadLetter(ctx, entry, "undecodable payload: "+entry.DecodeErr)
		return
	}

	// Attempt ceiling first: this is the only path that removes an entry
	// without successful processing, and it both dead-letters and acks so
	// the stream is unblocked.
	if entry.Attempts > int64(l.cfg.MaxAttempts) {
		l.deadLetter(ctx, entry, fmt.Sprintf("max delivery attempts exceeded (%d)", l.cfg.MaxAttempts))
		return
	}

	handler, skip := l.dispatcher.Route(entry.Event)
	if skip != dispatch.SkipNone {
		l.metrics.IncProcessed(eventType, "skipped")
		l.logger.Debug("event skipped",
			"stream", entry.Stream,
			"entry_id", entry.ID,
			"type", eventType,
			"reason", string(skip),
		)
		l.ack(ctx, entry)
		return
	}

	outcome := handler(ctx, entry.Event)
	l.metrics.IncProcessed(eventType, outcome.Status.String())

	switch outcome.Status {
	case dispatch.StatusSuccess:
		l.ack(ctx, entry)
	case dispatch.StatusTransient:
		// Leave unacked; redelivery happens via reclaim.
		l.logger.Warn("transient failure, leaving entry for redelivery",
			"stream", entry.Stream,
			"entry_id", entry.ID,
			"type", eventType,
			"attempts", entry.Attempts,
			"error", outcome.Err,
		)
	case dispatch.StatusPermanent:
		l.logger.Error("permanent failure, dead-lettering",
			"stream", entry.Stream,
			"entry_id", entry.ID,
			"type", eventType,
			"error", outcome.Err,
		)
		l.deadLetter(ctx, entry, fmt.Sprintf("permanent failure: %v", outcome.Err))
	}
}

func (l *Loop) ack(ctx context.Context, entry eventlog.Entry) {
	if err := l.log.Ack(ctx, entry.Stream, l.cfg.Group, entry.ID); err != nil {
		// The entry will be redelivered; handlers are idempotent.
		l.logger.Error("ack failed", "stream", entry.Stream, "entry_id", entry.ID, "error", err)
	}
}

// deadLetter copies the entry to the dead-letter store, then acks it in the
// main log. If the copy fails the entry stays pending and is retried.
func (l *Loop) deadLetter(ctx context.Context, entry eventlog.Entry, reason string) {
	payload := json.RawMessage(entry.Raw)
	switch {
	case len(payload) == 0:
		var err error
		payload, err = json.Marshal(entry.Event)
		if err != nil {
			payload = []byte("{}")
		}
	case !json.Valid(payload):
		// Keep the listing surface serializable even for garbage bytes.
		payload, _ = json.Marshal(string(entry.Raw))
	}
	dl := deadletter.Entry{
		EntryID:   entry.ID,
		Stream:    entry.Stream,
		EventType: string(entry.Event.Type),
		SubjectID: entry.Event.SubjectID,
		Payload:   payload,
		Attempts:  entry.Attempts,
		Reason:    reason,
	}
	if err := l.dead.Append(ctx, dl); err != nil {
		l.logger.Error("dead-letter append failed, entry left pending",
			"stream", entry.Stream,
			"entry_id", entry.ID,
			"error", err,
		)
		return
	}
	l.metrics.IncDeadLettered(entry.Stream)
	l.ack(ctx, entry)
}

// Package redisstream implements the durable event log on Redis Streams
// with consumer groups. XADD gives the append path durability (paired with
// AOF persistence on the Redis side), XREADGROUP gives exclusive-until-acked
// delivery, and XAUTOCLAIM gives stall recovery.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"idrelay/internal/eventlog"
	"idrelay/internal/webhook/models"
	"idrelay/pkg/platform/sentinel"
)

const payloadField = "payload"

// Log is a Redis Streams backed eventlog.Log.
type Log struct {
	client redis.Cmdable

	mu      sync.Mutex
	created map[string]bool // stream:group pairs already ensured
}

// New wraps a Redis client. Consumer groups are created lazily on first use.
func New(client redis.Cmdable) *Log {
	return &Log{client: client, created: make(map[string]bool)}
}

// Append XADDs the encoded event. Redis assigns the monotonically increasing
// entry id.
func (l *Log) Append(ctx context.Context, stream string, event models.InboundEvent) (string, error) {
	data, err := event.Encode()
	if err != nil {
		return "", err
	}
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, wrapUnavailable(err))
	}
	return id, nil
}

func (l *Log) ReadPending(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]eventlog.Entry, error) {
	if err := l.ensureGroup(ctx, stream, group); err != nil {
		return nil, err
	}

	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // poll timeout, normal
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, wrapUnavailable(err))
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return l.toEntries(ctx, stream, group, msgs)
}

func (l *Log) Ack(ctx context.Context, stream, group, id string) error {
	if err := l.client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", stream, id, wrapUnavailable(err))
	}
	return nil
}

func (l *Log) ReclaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]eventlog.Entry, error) {
	if err := l.ensureGroup(ctx, stream, group); err != nil {
		return nil, err
	}

	msgs, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim %s: %w", stream, wrapUnavailable(err))
	}
	return l.toEntries(ctx, stream, group, msgs)
}

func (l *Log) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	pending, err := l.client.XPending(ctx, stream, group).Result()
	if err != nil {
		// A stream or group that does not exist yet has no lag.
		if errors.Is(err, redis.Nil) || strings.Contains(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, fmt.Errorf("xpending %s: %w", stream, wrapUnavailable(err))
	}
	return pending.Count, nil
}

// toEntries decodes messages and resolves per-entry delivery counts from the
// pending-entries list.
func (l *Log) toEntries(ctx context.Context, stream, group string, msgs []redis.XMessage) ([]eventlog.Entry, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	attempts := make(map[string]int64, len(msgs))
	ext, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  msgs[0].ID,
		End:    msgs[len(msgs)-1].ID,
		Count:  int64(len(msgs)),
	}).Result()
	if err == nil {
		for _, p := range ext {
			attempts[p.ID] = p.RetryCount
		}
	}

	entries := make([]eventlog.Entry, 0, len(msgs))
	for _, msg := range msgs {
		raw, _ := msg.Values[payloadField].(string)
		entry := eventlog.Entry{
			ID:       msg.ID,
			Stream:   stream,
			Attempts: 1,
		}
		if n := attempts[msg.ID]; n > 0 {
			entry.Attempts = n
		}
		event, err := models.Decode([]byte(raw))
		if err != nil {
			// Undecodable entries still flow to the consumer, marked so it
			// dead-letters them instead of wedging the stream.
			entry.Raw = []byte(raw)
			entry.DecodeErr = err.Error()
		} else {
			entry.Event = event
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *Log) ensureGroup(ctx context.Context, stream, group string) error {
	key := stream + ":" + group
	l.mu.Lock()
	done := l.created[key]
	l.mu.Unlock()
	if done {
		return nil
	}

	err := l.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, wrapUnavailable(err))
	}

	l.mu.Lock()
	l.created[key] = true
	l.mu.Unlock()
	return nil
}

// wrapUnavailable tags connectivity failures so the consumer loop can treat
// them as transient.
func wrapUnavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
}

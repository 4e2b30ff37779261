package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps dead letters in a Redis stream next to the main stream,
// so one persistence layer covers both.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Append(ctx context.Context, e Entry) error {
	if e.DeadLetteredAt.IsZero() {
		e.DeadLetteredAt = time.Now()
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(e.Stream),
		Values: map[string]any{
			"entry_id":         e.EntryID,
			"event_type":       e.EventType,
			"subject_id":       e.SubjectID,
			"payload":          string(e.Payload),
			"attempts":         e.Attempts,
			"reason":           e.Reason,
			"dead_lettered_at": e.DeadLetteredAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd dead letter: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, stream string, limit int) ([]Entry, error) {
	msgs, err := s.client.XRevRangeN(ctx, StreamName(stream), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange dead letters: %w", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, fromValues(stream, msg.Values))
	}
	return entries, nil
}

func (s *RedisStore) Count(ctx context.Context, stream string) (int64, error) {
	n, err := s.client.XLen(ctx, StreamName(stream)).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return 0, nil
		}
		return 0, fmt.Errorf("xlen dead letters: %w", err)
	}
	return n, nil
}

func fromValues(stream string, values map[string]any) Entry {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	e := Entry{
		EntryID:   str("entry_id"),
		Stream:    stream,
		EventType: str("event_type"),
		SubjectID: str("subject_id"),
		Payload:   json.RawMessage(str("payload")),
		Reason:    str("reason"),
	}
	fmt.Sscanf(str("attempts"), "%d", &e.Attempts)
	if t, err := time.Parse(time.RFC3339Nano, str("dead_lettered_at")); err == nil {
		e.DeadLetteredAt = t
	}
	return e
}

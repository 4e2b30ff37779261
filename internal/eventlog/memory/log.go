// Package memory is the in-memory twin of the Redis Streams log. It honors
// the same delivery contract (exclusive-until-acked, reclaim after idle) so
// consumer-loop unit tests run without Redis.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"idrelay/internal/eventlog"
	"idrelay/internal/webhook/models"
)

type entry struct {
	id    string
	seq   int64
	event models.InboundEvent

	delivered   bool
	acked       bool
	consumer    string
	deliveredAt time.Time
	attempts    int64
}

type stream struct {
	entries []*entry
	nextSeq int64
}

// Log is an in-memory eventlog.Log. The clock is injectable so reclaim
// tests control idle time without sleeping.
type Log struct {
	mu      sync.Mutex
	streams map[string]*stream

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

func New() *Log {
	return &Log{streams: make(map[string]*stream), Now: time.Now}
}

func (l *Log) stream(name string) *stream {
	s, ok := l.streams[name]
	if !ok {
		s = &stream{nextSeq: 1}
		l.streams[name] = s
	}
	return s
}

func (l *Log) Append(_ context.Context, streamName string, event models.InboundEvent) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stream(streamName)
	e := &entry{
		id:    fmt.Sprintf("%d-0", s.nextSeq),
		seq:   s.nextSeq,
		event: event,
	}
	s.nextSeq++
	s.entries = append(s.entries, e)
	return e.id, nil
}

func (l *Log) ReadPending(_ context.Context, streamName, _ /*group*/, consumer string, count int, _ time.Duration) ([]eventlog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stream(streamName)
	var out []eventlog.Entry
	for _, e := range s.entries {
		if len(out) >= count {
			break
		}
		if e.delivered || e.acked {
			continue
		}
		e.delivered = true
		e.consumer = consumer
		e.deliveredAt = l.Now()
		e.attempts++
		out = append(out, l.toEntry(streamName, e))
	}
	return out, nil
}

func (l *Log) Ack(_ context.Context, streamName, _ /*group*/, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.stream(streamName).entries {
		if e.id == id {
			e.acked = true
			return nil
		}
	}
	return nil
}

func (l *Log) ReclaimStale(_ context.Context, streamName, _ /*group*/, consumer string, minIdle time.Duration, count int) ([]eventlog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	var out []eventlog.Entry
	for _, e := range l.stream(streamName).entries {
		if len(out) >= count {
			break
		}
		if !e.delivered || e.acked {
			continue
		}
		if now.Sub(e.deliveredAt) < minIdle {
			continue
		}
		e.consumer = consumer
		e.deliveredAt = now
		e.attempts++
		out = append(out, l.toEntry(streamName, e))
	}
	return out, nil
}

func (l *Log) PendingCount(_ context.Context, streamName, _ string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for _, e := range l.stream(streamName).entries {
		if e.delivered && !e.acked {
			n++
		}
	}
	return n, nil
}

func (l *Log) toEntry(streamName string, e *entry) eventlog.Entry {
	return eventlog.Entry{
		ID:       e.id,
		Stream:   streamName,
		Attempts: e.attempts,
		Event:    e.event,
	}
}

// Acked reports whether the entry has been acknowledged. Test helper.
func (l *Log) Acked(streamName, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.stream(streamName).entries {
		if e.id == id {
			return e.acked
		}
	}
	return false
}

// Owner returns the consumer currently holding the entry. Test helper.
func (l *Log) Owner(streamName, id string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.stream(streamName).entries {
		if e.id == id {
			return e.consumer
		}
	}
	return ""
}

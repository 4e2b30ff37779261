package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"idrelay/pkg/requestcontext"
)

type recordingSweeper struct {
	mu    sync.Mutex
	times []time.Time
	err   error
}

func (r *recordingSweeper) AnonymizeDue(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, requestcontext.Now(ctx))
	return 1, r.err
}

func (r *recordingSweeper) sweeps() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}

type SchedulerSuite struct {
	suite.Suite
	sweeper *recordingSweeper
	now     time.Time
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.sweeper = &recordingSweeper{}
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *SchedulerSuite) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *SchedulerSuite) TestSweepsImmediatelyWithPinnedClock() {
	trigger := make(chan struct{})
	sched := New(s.sweeper, time.Hour, s.logger(),
		WithClock(func() time.Time { return s.now }),
		WithTrigger(trigger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	s.Eventually(func() bool { return len(s.sweeper.sweeps()) == 1 }, time.Second, 5*time.Millisecond)
	s.True(s.sweeper.sweeps()[0].Equal(s.now))

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

func (s *SchedulerSuite) TestTriggerFiresSweepWithCurrentClock() {
	trigger := make(chan struct{})
	sched := New(s.sweeper, time.Hour, s.logger(),
		WithClock(func() time.Time { return s.now }),
		WithTrigger(trigger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	s.Eventually(func() bool { return len(s.sweeper.sweeps()) == 1 }, time.Second, 5*time.Millisecond)

	// Advance the clock and fire; the sweep observes the new instant.
	s.now = s.now.Add(8 * 24 * time.Hour)
	trigger <- struct{}{}

	s.Eventually(func() bool { return len(s.sweeper.sweeps()) == 2 }, time.Second, 5*time.Millisecond)
	s.True(s.sweeper.sweeps()[1].Equal(s.now))
}

func (s *SchedulerSuite) TestSweepErrorDoesNotStopTheLoop() {
	s.sweeper.err = errors.New("storage down")
	trigger := make(chan struct{})
	sched := New(s.sweeper, time.Hour, s.logger(), WithTrigger(trigger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	s.Eventually(func() bool { return len(s.sweeper.sweeps()) == 1 }, time.Second, 5*time.Millisecond)
	trigger <- struct{}{}
	s.Eventually(func() bool { return len(s.sweeper.sweeps()) == 2 }, time.Second, 5*time.Millisecond)
}

func (s *SchedulerSuite) TestZeroIntervalDefaults() {
	sched := New(s.sweeper, 0, s.logger())
	s.Equal(24*time.Hour, sched.interval)
}

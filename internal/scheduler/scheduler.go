// Package scheduler runs the periodic anonymization sweep. The sweep walks
// entities whose deletion grace period has expired and irreversibly
// anonymizes them; the interval is coarse because the grace period is
// measured in days.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"idrelay/pkg/requestcontext"
)

// Sweeper is the slice of the lifecycle service the scheduler drives.
type Sweeper interface {
	AnonymizeDue(ctx context.Context) (int, error)
}

// Scheduler triggers anonymization sweeps on a fixed interval. The clock
// and an optional trigger channel are injectable so tests fire sweeps at
// pinned times instead of waiting out the interval.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
	trigger  <-chan struct{}
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock used to stamp each sweep.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTrigger adds a channel that fires an immediate sweep when signalled,
// in addition to the interval ticks.
func WithTrigger(trigger <-chan struct{}) Option {
	return func(s *Scheduler) { s.trigger = trigger }
}

func New(sweeper Sweeper, interval time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
	if s.interval <= 0 {
		s.interval = 24 * time.Hour
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately, then on every interval tick or trigger
// signal, until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.trigger:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	// Every mutation in the sweep observes the same instant.
	ctx = requestcontext.WithTime(ctx, s.now())

	count, err := s.sweeper.AnonymizeDue(ctx)
	if err != nil {
		s.logger.Error("anonymization sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("anonymization sweep complete", "anonymized", count)
	}
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package control implements the driver's single cooperative tick loop
// (spec.md §4.4): reconcile, conditionally create jobs, release due
// submissions, sleep, repeat — until cancelled or the profile reports it is
// done.
package control

import (
	"context"
	"time"

	"github.com/lavastorm/lavastorm/internal/profile"
	lerrors "github.com/lavastorm/lavastorm/pkg/errors"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

// DefaultTick is the fixed inter-tick sleep spec.md §4.4 mandates. Wall-clock
// drift across ticks is not compensated.
const DefaultTick = 10 * time.Second

// Loop drives one profile against one backend adapter for the lifetime of
// the process.
type Loop struct {
	profile profile.Profile
	tick    time.Duration
	now     func() time.Time
	logger  logging.Logger
	onTick  func(p profile.Profile)
}

// Option configures a Loop.
type Option func(*Loop)

// WithTick overrides the inter-tick sleep (tests use this to avoid real
// 10-second waits).
func WithTick(d time.Duration) Option {
	return func(l *Loop) { l.tick = d }
}

// WithClock overrides the loop's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithLogger overrides the loop's logger.
func WithLogger(logger logging.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithOnTick registers a callback invoked once per tick, immediately after
// reconciliation, with the profile so its Counters/QueueLen can be pushed
// to pkg/metrics and pkg/status. A nil callback (the default) is a no-op.
func WithOnTick(fn func(p profile.Profile)) Option {
	return func(l *Loop) { l.onTick = fn }
}

// New constructs a Loop around p with a 10-second tick and the system clock,
// as modified by opts.
func New(p profile.Profile, opts ...Option) *Loop {
	l := &Loop{profile: p, tick: DefaultTick, now: time.Now, logger: logging.NoOpLogger{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the tick sequence until ctx is cancelled or the profile
// reports Done(). It returns *pkg/errors.Error with CodeUserCancelled or
// CodeIterationLimit respectively — the only two error classes the
// specification allows to escape the control loop (spec.md §7).
func (l *Loop) Run(ctx context.Context) error {
	for {
		now := l.now()

		if err := l.profile.Reconcile(ctx, now); err != nil {
			return err
		}

		if l.onTick != nil {
			l.onTick(l.profile)
		}

		if l.profile.Done() {
			l.logger.WithContext(ctx).Info("profile reached its iteration limit, shutting down")
			l.profile.KillAll(ctx)
			return lerrors.IterationLimitReached(batchesSubmitted(l.profile))
		}

		if l.profile.IsActive(now) {
			l.profile.CreateJobs(now)
		}

		if err := l.profile.StartQueue(ctx, now); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			l.logger.WithContext(ctx).Info("cancellation received, killing active tasks")
			l.profile.KillAll(ctx)
			return lerrors.UserCancelled()
		case <-time.After(l.tick):
		}
	}
}

// batchesSubmitted extracts a batch count for the IterationLimitReached
// error message from any profile that tracks one (only Batch does).
func batchesSubmitted(p profile.Profile) int {
	if r, ok := p.(interface{ BatchesSubmitted() int }); ok {
		return r.BatchesSubmitted()
	}
	return 0
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"context"
	"time"

	"github.com/lavastorm/lavastorm/internal/backend"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

// Steady maintains a fixed number of concurrently active jobs, topping up
// the active set whenever it falls below BaseLoad (spec.md §4.3).
type Steady struct {
	base
	BaseLoad int
}

// NewSteady constructs a Steady profile targeting baseLoad concurrently
// active tasks.
func NewSteady(manager backend.Manager, sampler *Sampler, logger logging.Logger, baseLoad int) *Steady {
	return &Steady{base: newBase(manager, sampler, logger), BaseLoad: baseLoad}
}

// CreateJobs tops up the active set to BaseLoad, sampling one shared
// release time for the whole batch of top-up submissions.
func (s *Steady) CreateJobs(now time.Time) {
	deficit := s.BaseLoad - s.totalActiveJobs()
	if deficit <= 0 {
		return
	}
	s.enqueue(deficit, s.sampler.NextStartTime(now))
}

func (s *Steady) Reconcile(ctx context.Context, now time.Time) error {
	return s.reconcile(ctx, now)
}

func (s *Steady) StartQueue(ctx context.Context, now time.Time) error {
	return s.startQueue(ctx, now)
}

func (s *Steady) KillAll(ctx context.Context) {
	s.killAll(ctx)
}

// Done is always false: a steady profile runs until cancelled.
func (s *Steady) Done() bool { return false }

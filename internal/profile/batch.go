// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"context"
	"time"

	"github.com/lavastorm/lavastorm/internal/backend"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

// Batch submits a burst of MinPerBatch..MaxPerBatch jobs, waits for the
// whole burst to drain, then repeats, up to Iterations times (0 = forever).
type Batch struct {
	base
	MinPerBatch int
	MaxPerBatch int
	Iterations  int

	batchesSubmitted int
	done             bool
}

// NewBatch constructs a Batch profile.
func NewBatch(manager backend.Manager, sampler *Sampler, logger logging.Logger, minPerBatch, maxPerBatch, iterations int) *Batch {
	return &Batch{
		base:        newBase(manager, sampler, logger),
		MinPerBatch: minPerBatch,
		MaxPerBatch: maxPerBatch,
		Iterations:  iterations,
	}
}

// CreateJobs enqueues nothing while any job from a prior batch is still
// active (batch exclusivity, spec.md §8 property 5). Once drained, it
// checks the iteration cap *before* sampling the next batch, and only
// increments the batch counter after the batch is enqueued — the order
// the specification calls out as fixing a historical off-by-one (spec.md
// §9).
func (b *Batch) CreateJobs(now time.Time) {
	if b.totalActiveJobs() > 0 {
		return
	}
	if b.Iterations > 0 && b.batchesSubmitted >= b.Iterations {
		b.done = true
		return
	}

	n := b.sampler.uniform(b.MinPerBatch, b.MaxPerBatch)
	b.enqueue(n, b.sampler.NextStartTime(now))
	b.batchesSubmitted++
}

func (b *Batch) Reconcile(ctx context.Context, now time.Time) error {
	return b.reconcile(ctx, now)
}

func (b *Batch) StartQueue(ctx context.Context, now time.Time) error {
	return b.startQueue(ctx, now)
}

func (b *Batch) KillAll(ctx context.Context) {
	b.killAll(ctx)
}

// Done reports whether the configured iteration cap has been reached
// (spec.md §7's IterationLimitReached: orderly shutdown, exit 0).
func (b *Batch) Done() bool { return b.done }

// BatchesSubmitted reports how many batches have been enqueued so far.
func (b *Batch) BatchesSubmitted() int { return b.batchesSubmitted }

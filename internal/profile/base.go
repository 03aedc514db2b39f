// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lavastorm/lavastorm/internal/backend"
	"github.com/lavastorm/lavastorm/internal/job"
	"github.com/lavastorm/lavastorm/internal/queue"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

// Counters is the profile's monotonic and transient accounting state
// (spec.md §3's "Profile state"). Monotonic fields only ever increase;
// PendingTaskCount/RunningTaskCount are recomputed every reconciliation.
type Counters struct {
	TotalSubmittedJobs int64
	TotalTaskCount     int64
	CompletedTaskCount int64
	FailedTaskCount    int64
	KilledTaskCount    int64

	PendingTaskCount int
	RunningTaskCount int
}

// TotalActiveJobs is len(active tasks) + len(submit queue) at the moment
// the counters were last recomputed.
func (c Counters) TotalActiveJobs(queuedCount int) int {
	return c.PendingTaskCount + c.RunningTaskCount + queuedCount
}

// TotalFinishedJobs derives the finished count from the submitted/active
// balance (spec.md §4.3, reconciliation step 4).
func (c Counters) TotalFinishedJobs(totalActive int) int64 {
	return c.TotalSubmittedJobs - int64(totalActive)
}

// Profile is the shared operation set every demand-shaping variant
// implements (spec.md §9's "Polymorphic profiles").
type Profile interface {
	// CreateJobs enqueues zero or more PendingSubmissions for this tick.
	CreateJobs(now time.Time)
	// Reconcile queries the backend for every active task and updates
	// counters; terminal tasks are dropped from the active set.
	Reconcile(ctx context.Context, now time.Time) error
	// StartQueue releases due PendingSubmissions to the backend.
	StartQueue(ctx context.Context, now time.Time) error
	// KillAll best-effort kills every still-active task.
	KillAll(ctx context.Context)
	// Counters returns a snapshot of the profile's accounting state.
	Counters() Counters
	// QueueLen reports the submit queue's current depth.
	QueueLen() int
	// Done reports whether the profile has reached its own termination
	// condition (batch's iteration cap); steady profiles never finish.
	Done() bool
	// IsActive reports whether now falls inside the profile's configured
	// office hours (spec.md §4.3's is_active).
	IsActive(now time.Time) bool
}

// base holds the state and logic common to every profile variant: the
// submit queue, the active-task set, the sampler, and reconciliation.
type base struct {
	manager backend.Manager
	sampler *Sampler
	queue   *queue.Queue
	logger  logging.Logger

	// active maps job id -> array index -> last-known classification (true
	// if the task was last observed running, false if pending). Views (and
	// their kill functions) are re-fetched on demand; this map only tracks
	// identity and the running/pending split so a transient query failure
	// can retain it instead of reclassifying everything as pending.
	active map[int64]map[int]bool

	counters Counters
}

func newBase(manager backend.Manager, sampler *Sampler, logger logging.Logger) base {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return base{
		manager: manager,
		sampler: sampler,
		queue:   queue.New(),
		logger:  logger,
		active:  make(map[int64]map[int]bool),
	}
}

func (b *base) QueueLen() int { return b.queue.Len() }

func (b *base) IsActive(now time.Time) bool { return b.sampler.IsActive(now) }

func (b *base) Counters() Counters { return b.counters }

func (b *base) totalActiveTasks() int {
	n := 0
	for _, tasks := range b.active {
		n += len(tasks)
	}
	return n
}

func (b *base) totalActiveJobs() int {
	return b.totalActiveTasks() + b.queue.Len()
}

// enqueue parks n PendingSubmissions sharing one release time, sampling a
// fresh command/slots/target set for each.
func (b *base) enqueue(n int, releaseAt time.Time) {
	for i := 0; i < n; i++ {
		correlationID := uuid.New().String()
		b.queue.Add(queue.Pending{
			ReleaseAt: releaseAt,
			Spec: queue.Spec{
				Command:        b.sampler.CreateJobCommand(),
				RequestedSlots: b.sampler.NumProcessors(),
				ProjectName:    b.sampler.Project(),
				QueueName:      b.sampler.Queue(),
				NumTasks:       b.sampler.NumTasks(),
				CorrelationID:  correlationID,
			},
		})
		b.logger.Debug("submission enqueued", "correlation_id", correlationID, "release_at", releaseAt)
	}
}

// reconcile implements spec.md §4.3's process_running_jobs: for each
// job id group, fetch JobViews and fold terminal ones into counters while
// retaining non-terminal handles.
func (b *base) reconcile(ctx context.Context, now time.Time) error {
	pending, running := 0, 0
	for jobID, tasks := range b.active {
		views, err := b.manager.GetJobs(ctx, jobID)
		if err != nil {
			// TransientQueryFailure: retain every task's prior presence AND
			// its last-known running/pending classification unchanged until
			// the next tick, rather than reclassifying it as pending.
			b.logger.WithContext(ctx).Debug("reconciliation query failed, retaining prior state",
				"job_id", jobID, "error", err)
			for _, wasRunning := range tasks {
				if wasRunning {
					running++
				} else {
					pending++
				}
			}
			continue
		}

		remaining := make(map[int]bool, len(tasks))
		for _, v := range views {
			wasRunning, tracked := tasks[v.ArrayIndex]
			if !tracked {
				continue
			}
			switch v.Terminal() {
			case job.TerminalCompleted:
				b.counters.CompletedTaskCount++
			case job.TerminalFailed:
				b.counters.FailedTaskCount++
			case job.TerminalKilled:
				b.counters.KilledTaskCount++
			default:
				switch {
				case v.IsRunning:
					remaining[v.ArrayIndex] = true
					running++
				case v.IsPending:
					remaining[v.ArrayIndex] = false
					pending++
				default:
					// Neither flag set (e.g. suspended): carry forward the
					// last-known classification without counting it this tick.
					remaining[v.ArrayIndex] = wasRunning
				}
			}
		}
		if len(remaining) == 0 {
			delete(b.active, jobID)
		} else {
			b.active[jobID] = remaining
		}
	}

	b.counters.PendingTaskCount = pending
	b.counters.RunningTaskCount = running

	totalActive := b.totalActiveJobs()
	b.logger.WithContext(ctx).Info("reconciliation complete",
		"active_jobs", len(b.active),
		"pending_tasks", pending,
		"running_tasks", running,
		"total_active_jobs", totalActive,
		"total_finished_jobs", b.counters.TotalFinishedJobs(totalActive),
	)
	return nil
}

// startQueue implements spec.md §4.2's drain policy: release every due
// PendingSubmission, in order, exactly once.
func (b *base) startQueue(ctx context.Context, now time.Time) error {
	due := b.queue.ReleaseDue(now)
	for _, p := range due {
		handles, err := b.manager.StartJob(ctx, backend.StartJobRequest{
			Command:        p.Spec.Command,
			RequestedSlots: p.Spec.RequestedSlots,
			ProjectName:    p.Spec.ProjectName,
			QueueName:      p.Spec.QueueName,
			NumTasks:       p.Spec.NumTasks,
		})
		if err != nil {
			b.logger.WithContext(ctx).Warn("submission rejected by backend",
				"correlation_id", p.Spec.CorrelationID, "error", err)
			continue
		}

		b.counters.TotalSubmittedJobs++
		b.counters.TotalTaskCount += int64(len(handles))
		for _, h := range handles {
			if b.active[h.JobID] == nil {
				b.active[h.JobID] = make(map[int]bool)
			}
			// Freshly submitted tasks haven't been observed running yet.
			b.active[h.JobID][h.ArrayIndex] = false
		}
		if len(handles) > 0 {
			b.logger.WithContext(ctx).Info("submission released to backend",
				"correlation_id", p.Spec.CorrelationID, "job_id", handles[0].JobID, "task_count", len(handles))
		}
	}
	return nil
}

// killAll implements spec.md §4.3's kill-all: for each retained task, fetch
// its current view and kill it if still pending or running, swallowing any
// backend error.
func (b *base) killAll(ctx context.Context) {
	for jobID, tasks := range b.active {
		for arrayIndex := range tasks {
			view, err := b.manager.GetJob(ctx, jobID, arrayIndex)
			if err != nil {
				continue
			}
			if view.IsRunning || view.IsPending {
				if kerr := view.Kill(ctx); kerr != nil {
					b.logger.WithContext(ctx).Debug("kill-all swallowed backend error",
						"job_id", jobID, "array_index", arrayIndex, "error", kerr)
				}
			}
		}
	}
}

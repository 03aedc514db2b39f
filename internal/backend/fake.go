// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lavastorm/lavastorm/internal/job"
	lerrors "github.com/lavastorm/lavastorm/pkg/errors"
)

// Fake is an in-memory Manager test double used by control-loop and profile
// scenario tests (spec.md §8, S1/S2/S5/S6) in place of a real scheduler.
// Every submitted task reports RUN until RunFor has elapsed since
// submission, then DONE, unless overridden per job via MarkDone/MarkFailed
// (or made to fail queries via FailGetJobsFor).
type Fake struct {
	mu sync.Mutex

	// RunFor is how long a task stays RUN before transitioning to DONE.
	// Zero means "DONE on the first query after submission."
	RunFor time.Duration
	// Now defaults to time.Now; tests substitute a controllable clock.
	Now func() time.Time
	// NextJobID seeds job id assignment; each submission increments it.
	NextJobID int64

	tasks         map[int64]map[int]*fakeTask
	failCountdown map[int64]int
	submitCount   int
}

type fakeTask struct {
	submittedAt time.Time
	done        bool
	failed      bool
	killed      bool
}

// NewFake constructs a Fake adapter with NextJobID starting at 1000 and a
// 5-second default run duration, matching the S1 scenario's fake-adapter
// contract.
func NewFake() *Fake {
	return &Fake{
		RunFor:        5 * time.Second,
		NextJobID:     1000,
		tasks:         make(map[int64]map[int]*fakeTask),
		failCountdown: make(map[int64]int),
	}
}

func (f *Fake) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// SubmitCount reports how many StartJob calls have succeeded, for assertions
// like S5's "exactly 6 jobs submitted."
func (f *Fake) SubmitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCount
}

// FailGetJobsFor makes the next n GetJobs/GetJob calls for jobID return a
// TransientQueryFailure, simulating an outage (S6).
func (f *Fake) FailGetJobsFor(jobID int64, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCountdown[jobID] = n
}

// ForceJobID pins the job id the next StartJob call will assign, matching
// S2's fixed "adapter returns job id 42."
func (f *Fake) ForceJobID(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NextJobID = id
}

func (f *Fake) StartJob(ctx context.Context, req StartJobRequest) ([]job.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	numTasks := req.NumTasks
	if numTasks < 1 {
		numTasks = 1
	}
	jobID := f.NextJobID
	f.NextJobID++
	f.submitCount++

	group := make(map[int]*fakeTask, numTasks)
	handles := make([]job.Handle, numTasks)
	now := f.now()
	for i := 0; i < numTasks; i++ {
		idx := 0
		if numTasks > 1 {
			idx = i + 1
		}
		group[idx] = &fakeTask{submittedAt: now}
		handles[i] = job.Handle{JobID: jobID, ArrayIndex: idx}
	}
	f.tasks[jobID] = group
	return handles, nil
}

func (f *Fake) GetJobs(ctx context.Context, jobID int64) ([]job.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if remaining := f.failCountdown[jobID]; remaining > 0 {
		f.failCountdown[jobID] = remaining - 1
		return nil, lerrors.TransientQueryFailure(nil, "fake adapter injected failure for job %d", jobID)
	}

	group, ok := f.tasks[jobID]
	if !ok {
		return nil, fmt.Errorf("fake adapter has no record of job %d", jobID)
	}

	now := f.now()
	views := make([]job.View, 0, len(group))
	for idx, t := range group {
		flags := f.flagsFor(t, now)
		views = append(views, job.NewView(jobID, idx, flags, f.killFuncFor(jobID, idx)))
	}
	return views, nil
}

func (f *Fake) GetJob(ctx context.Context, jobID int64, arrayIndex int) (job.View, error) {
	views, err := f.GetJobs(ctx, jobID)
	if err != nil {
		return job.View{}, err
	}
	for _, v := range views {
		if v.ArrayIndex == arrayIndex {
			return v, nil
		}
	}
	return job.View{}, fmt.Errorf("task %d.%d not present in fake adapter", jobID, arrayIndex)
}

func (f *Fake) flagsFor(t *fakeTask, now time.Time) job.Flags {
	switch {
	case t.killed:
		return job.KilledAndFailed()
	case t.failed:
		return job.Flags{IsFailed: true}
	case t.done || !now.Before(t.submittedAt.Add(f.RunFor)):
		return job.Flags{IsCompleted: true}
	default:
		return job.Flags{IsRunning: true}
	}
}

func (f *Fake) killFuncFor(jobID int64, arrayIndex int) job.KillFunc {
	return func(ctx context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		group, ok := f.tasks[jobID]
		if !ok {
			return fmt.Errorf("fake adapter has no record of job %d", jobID)
		}
		t, ok := group[arrayIndex]
		if !ok {
			return fmt.Errorf("fake adapter has no record of task %d.%d", jobID, arrayIndex)
		}
		t.killed = true
		return nil
	}
}

// MarkFailed forces a task to report IsFailed on its next query, for tests
// that exercise the failure branch of a profile's reconciliation logic.
func (f *Fake) MarkFailed(jobID int64, arrayIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if group, ok := f.tasks[jobID]; ok {
		if t, ok := group[arrayIndex]; ok {
			t.failed = true
		}
	}
}

// MarkDone forces a task to report IsCompleted immediately, regardless of
// RunFor, matching S5's "DONE the tick after submission."
func (f *Fake) MarkDone(jobID int64, arrayIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if group, ok := f.tasks[jobID]; ok {
		if t, ok := group[arrayIndex]; ok {
			t.done = true
		}
	}
}

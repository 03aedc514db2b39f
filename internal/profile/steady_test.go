// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavastorm/lavastorm/internal/backend"
)

func testSampler() *Sampler {
	return NewSampler(SamplerConfig{
		MinRuntimeSeconds: 1, MaxRuntimeSeconds: 1,
		MinObservationSeconds: 0, MaxObservationSeconds: 0,
		MinProcessors: 1, MaxProcessors: 1,
		MinTasksPerJob: 1, MaxTasksPerJob: 1,
	}, rand.New(rand.NewSource(1)))
}

func TestSteady_S1_BaseloadSteadyState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	fake := backend.NewFake()
	fake.Now = func() time.Time { return current }
	fake.RunFor = 5 * time.Second

	s := NewSteady(fake, testSampler(), nil, 3)
	ctx := context.Background()

	// Tick 1: create + release.
	s.CreateJobs(current)
	require.NoError(t, s.StartQueue(ctx, current))
	require.NoError(t, s.Reconcile(ctx, current))

	// Tick 2: reconcile observes the RUN state (the fake adapter hasn't
	// crossed its 5s run duration yet); create tops up to 3 (no-op, already
	// at 3).
	require.NoError(t, s.Reconcile(ctx, current))
	s.CreateJobs(current)
	require.NoError(t, s.StartQueue(ctx, current))

	assert.Equal(t, 3, s.Counters().RunningTaskCount)

	// Advance 60s of simulated time past the fake's 5s run duration.
	current = now.Add(60 * time.Second)
	require.NoError(t, s.Reconcile(ctx, current))
	s.CreateJobs(current)
	require.NoError(t, s.StartQueue(ctx, current))
	require.NoError(t, s.Reconcile(ctx, current))

	assert.GreaterOrEqual(t, s.Counters().CompletedTaskCount, int64(3))
	assert.Equal(t, 3, s.totalActiveJobs())
}

func TestSteady_S2_ArraySubmission(t *testing.T) {
	fake := backend.NewFake()
	fake.ForceJobID(42)

	sampler := NewSampler(SamplerConfig{
		MinRuntimeSeconds: 1, MaxRuntimeSeconds: 1,
		MinTasksPerJob: 4, MaxTasksPerJob: 4,
		MinProcessors: 1, MaxProcessors: 1,
	}, rand.New(rand.NewSource(1)))

	s := NewSteady(fake, sampler, nil, 1)
	ctx := context.Background()
	now := time.Now()

	s.CreateJobs(now)
	require.NoError(t, s.StartQueue(ctx, now))
	require.NoError(t, s.Reconcile(ctx, now))

	assert.Equal(t, 4, s.Counters().PendingTaskCount+s.Counters().RunningTaskCount)
}

func TestSteady_S4_OfficeHoursGating(t *testing.T) {
	fixedClock := time.Date(2026, 1, 1, 20, 0, 0, 0, time.Local)
	intervals, err := ParseOfficeHours("09:00:00-17:00:00")
	require.NoError(t, err)

	sampler := NewSampler(SamplerConfig{
		MinRuntimeSeconds: 1, MaxRuntimeSeconds: 1,
		MinProcessors: 1, MaxProcessors: 1,
		MinTasksPerJob: 1, MaxTasksPerJob: 1,
		OfficeHours: intervals,
	}, rand.New(rand.NewSource(1)))

	fake := backend.NewFake()
	s := NewSteady(fake, sampler, nil, 3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Reconcile(ctx, fixedClock))
		if sampler.IsActive(fixedClock) {
			s.CreateJobs(fixedClock)
		}
		require.NoError(t, s.StartQueue(ctx, fixedClock))
	}

	assert.Equal(t, int64(0), s.Counters().TotalSubmittedJobs)
	assert.Equal(t, 0, s.QueueLen())
}

func TestSteady_Reconcile_RetainsStateDuringTransientFailure(t *testing.T) {
	fake := backend.NewFake()
	s := NewSteady(fake, testSampler(), nil, 1)
	ctx := context.Background()
	now := time.Now()

	s.CreateJobs(now)
	require.NoError(t, s.StartQueue(ctx, now))
	require.NoError(t, s.Reconcile(ctx, now))

	var jobID int64
	for id := range s.active {
		jobID = id
	}
	require.Equal(t, 1, s.Counters().RunningTaskCount, "fake adapter reports a freshly submitted task as running")
	fake.FailGetJobsFor(jobID, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Reconcile(ctx, now))
		assert.Contains(t, s.active, jobID, "active task must survive a transient query failure")
		assert.Equal(t, 1, s.Counters().RunningTaskCount, "a task observed running before the outage must stay running, not get lumped into pending")
		assert.Equal(t, 0, s.Counters().PendingTaskCount)
	}
}

// TestSteady_Reconcile_PreservesRunningPendingSplitDuringTransientFailure
// covers the split the test above doesn't: one job observed running before
// an outage and one job whose very first query is the outage itself (so it
// was never classified anything but pending). Both must retain their
// distinct classification across every failed tick.
func TestSteady_Reconcile_PreservesRunningPendingSplitDuringTransientFailure(t *testing.T) {
	fake := backend.NewFake()
	s := NewSteady(fake, testSampler(), nil, 2)
	ctx := context.Background()
	now := time.Now()

	s.CreateJobs(now)
	require.NoError(t, s.StartQueue(ctx, now))
	require.Len(t, s.active, 2)

	ids := make([]int64, 0, 2)
	for id := range s.active {
		ids = append(ids, id)
	}
	runningJobID, neverObservedJobID := ids[0], ids[1]

	// neverObservedJobID's very first query ever is a transient failure, so
	// it never gets the chance to be classified running like its sibling.
	fake.FailGetJobsFor(neverObservedJobID, 4)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Reconcile(ctx, now))
		assert.Equal(t, 1, s.Counters().RunningTaskCount,
			"the job whose queries succeed must be classified running")
		assert.Equal(t, 1, s.Counters().PendingTaskCount,
			"the job whose queries keep failing must retain its pending classification, not the other job's running one")
	}

	assert.Contains(t, s.active, runningJobID)
	assert.Contains(t, s.active, neverObservedJobID)
}

func TestSteady_KillAll(t *testing.T) {
	fake := backend.NewFake()
	s := NewSteady(fake, testSampler(), nil, 1)
	ctx := context.Background()
	now := time.Now()

	s.CreateJobs(now)
	require.NoError(t, s.StartQueue(ctx, now))
	require.NoError(t, s.Reconcile(ctx, now))
	require.NotEmpty(t, s.active)

	s.KillAll(ctx)

	var jobID, idx int64
	for id, tasks := range s.active {
		jobID = id
		for ai := range tasks {
			idx = int64(ai)
		}
	}
	view, err := fake.GetJob(ctx, jobID, int(idx))
	require.NoError(t, err)
	assert.True(t, view.WasKilled)
}

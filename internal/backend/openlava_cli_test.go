// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestOpenLavaCLI_StartJob_Single(t *testing.T) {
	runner := newFakeRunner().script("bsub", fakeResponse{stdout: "Job <101> is submitted to default queue <normal>.\n"})
	a := NewOpenLavaCLI(Config{}, runner)

	handles, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi", RequestedSlots: 1})
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, int64(101), handles[0].JobID)
	assert.Equal(t, 0, handles[0].ArrayIndex)
}

func TestOpenLavaCLI_StartJob_LogsOperationAndCommand(t *testing.T) {
	runner := newFakeRunner().script("bsub", fakeResponse{stdout: "Job <101> is submitted to default queue <normal>.\n"})
	logger := newRecordingLogger()
	a := NewOpenLavaCLI(Config{Logger: logger}, runner)

	_, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi", RequestedSlots: 1})
	require.NoError(t, err)
	assert.True(t, logger.hasField("operation", "bsub_submit"))
	assert.True(t, logger.hasField("command", "bsub"))
}

func TestOpenLavaCLI_StartJob_LogsErrorOnRejection(t *testing.T) {
	runner := newFakeRunner().script("bsub", fakeResponse{stderr: "queue not found", err: errors.New("exit 1")})
	logger := newRecordingLogger()
	a := NewOpenLavaCLI(Config{Logger: logger}, runner)

	_, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi"})
	require.Error(t, err)
	assert.True(t, logger.hasField("operation", "bsub_submit"))
	assert.True(t, logger.hasField("error_type", "*errors.errorString"))
}

func TestOpenLavaCLI_StartJob_ArrayDiscovery(t *testing.T) {
	runner := newFakeRunner().
		script("bsub", fakeResponse{stdout: "Job <202> is submitted to default queue <normal>.\n"}).
		script("bjobs", fakeResponse{stdout: "JOBID USER STAT QUEUE\n202[1] u RUN normal\n202[2] u PEND normal\n202[3] u RUN normal\n"})
	a := NewOpenLavaCLI(Config{}, runner)

	handles, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi", NumTasks: 3})
	require.NoError(t, err)
	require.Len(t, handles, 3)
	assert.Equal(t, 202, int(handles[0].JobID))
	assert.ElementsMatch(t, []int{1, 2, 3}, []int{handles[0].ArrayIndex, handles[1].ArrayIndex, handles[2].ArrayIndex})
}

func TestOpenLavaCLI_StartJob_ArrayDiscoveryFallback(t *testing.T) {
	runner := newFakeRunner().
		script("bsub", fakeResponse{stdout: "Job <303> is submitted to default queue <normal>.\n"}).
		script("bjobs", fakeResponse{err: errors.New("timeout")})
	a := NewOpenLavaCLI(Config{}, runner)

	handles, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi", NumTasks: 2})
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, []int{1, 2}, []int{handles[0].ArrayIndex, handles[1].ArrayIndex})
}

func TestOpenLavaCLI_StartJob_SubmitRejected(t *testing.T) {
	runner := newFakeRunner().script("bsub", fakeResponse{stderr: "queue not found", err: errors.New("exit 1")})
	a := NewOpenLavaCLI(Config{}, runner)

	_, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi"})
	require.Error(t, err)
}

func TestOpenLavaCLI_GetJobs_Live(t *testing.T) {
	runner := newFakeRunner().script("bjobs", fakeResponse{stdout: "JOBID USER STAT QUEUE\n101 u RUN normal\n"})
	a := NewOpenLavaCLI(Config{}, runner)

	views, err := a.GetJobs(context.Background(), 101)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsRunning)
}

func TestOpenLavaCLI_GetJobs_TransientFailureOnQueryError(t *testing.T) {
	runner := newFakeRunner().script("bjobs", fakeResponse{err: errors.New("daemon unreachable")})
	a := NewOpenLavaCLI(Config{}, runner)

	_, err := a.GetJobs(context.Background(), 101)
	require.Error(t, err)
}

func TestOpenLavaCLI_GetJobs_FallsBackToHistorical(t *testing.T) {
	runner := newFakeRunner().
		script("bjobs", fakeResponse{stderr: "Job <101> is not found", err: errors.New("exit 255")}).
		script("bhist", fakeResponse{stdout: "Done successfully"})
	a := NewOpenLavaCLI(Config{}, runner)

	views, err := a.GetJobs(context.Background(), 101)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsCompleted)
}

func TestOpenLavaCLI_GetJobs_MissingGraceWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	runner := newFakeRunner()
	a := NewOpenLavaCLI(Config{Now: func() time.Time { return current }}, runner)

	for i := 0; i < 3; i++ {
		runner.script("bjobs", fakeResponse{stderr: "not found", err: errors.New("exit 255")})
		runner.script("bhist", fakeResponse{stdout: "no such job"})
	}

	_, err := a.GetJobs(context.Background(), 999)
	require.Error(t, err, "first miss must be transient")

	current = now.Add(5 * time.Second)
	_, err = a.GetJobs(context.Background(), 999)
	require.Error(t, err, "still within grace window")

	current = now.Add(11 * time.Second)
	views, err := a.GetJobs(context.Background(), 999)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].WasKilled)
	assert.True(t, views[0].IsFailed)
}

func TestOpenLavaCLI_GetJobs_RecoversClearsMissingState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	runner := newFakeRunner()
	a := NewOpenLavaCLI(Config{Now: func() time.Time { return current }}, runner)

	runner.script("bjobs", fakeResponse{stderr: "not found", err: errors.New("exit 255")})
	runner.script("bhist", fakeResponse{stdout: "no such job"})
	_, err := a.GetJobs(context.Background(), 555)
	require.Error(t, err)

	runner.script("bjobs", fakeResponse{stdout: "JOBID USER STAT QUEUE\n555 u RUN normal\n"})
	views, err := a.GetJobs(context.Background(), 555)
	require.NoError(t, err)
	assert.True(t, views[0].IsRunning)

	current = now.Add(20 * time.Second)
	runner.script("bjobs", fakeResponse{stderr: "not found", err: errors.New("exit 255")})
	runner.script("bhist", fakeResponse{stdout: "no such job"})
	_, err = a.GetJobs(context.Background(), 555)
	require.Error(t, err, "recovered job must restart its own grace window on the next miss")
}

func TestOpenLavaCLI_GetJob_Single(t *testing.T) {
	runner := newFakeRunner().script("bjobs", fakeResponse{stdout: "JOBID USER STAT QUEUE\n101[2] u PEND normal\n"})
	a := NewOpenLavaCLI(Config{}, runner)

	view, err := a.GetJob(context.Background(), 101, 2)
	require.NoError(t, err)
	assert.True(t, view.IsPending)
}

func TestOpenLavaCLI_Kill_InvokesBkill(t *testing.T) {
	runner := newFakeRunner().
		script("bjobs", fakeResponse{stdout: "JOBID USER STAT QUEUE\n101 u RUN normal\n"}).
		script("bkill", fakeResponse{stdout: "Job <101> is being terminated"})
	a := NewOpenLavaCLI(Config{}, runner)

	views, err := a.GetJobs(context.Background(), 101)
	require.NoError(t, err)
	require.NoError(t, views[0].Kill(context.Background()))
}

func TestOpenLavaCLI_Kill_Failure(t *testing.T) {
	runner := newFakeRunner().
		script("bjobs", fakeResponse{stdout: "JOBID USER STAT QUEUE\n101 u RUN normal\n"}).
		script("bkill", fakeResponse{stderr: "no such job", err: errors.New("exit 1")})
	a := NewOpenLavaCLI(Config{}, runner)

	views, err := a.GetJobs(context.Background(), 101)
	require.NoError(t, err)
	assert.Error(t, views[0].Kill(context.Background()))
}

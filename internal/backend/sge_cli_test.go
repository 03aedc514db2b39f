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

const qstatRunning = `<?xml version='1.0'?>
<job_info>
  <queue_info>
    <job_list state="running">
      <JB_job_number>501</JB_job_number>
      <state>r</state>
    </job_list>
  </queue_info>
  <job_info>
  </job_info>
</job_info>`

const qstatEmpty = `<?xml version='1.0'?>
<job_info>
  <queue_info>
  </queue_info>
  <job_info>
  </job_info>
</job_info>`

func TestSGECLI_StartJob_Single(t *testing.T) {
	runner := newFakeRunner().script("qsub", fakeResponse{stdout: "Your job 501 (\"lavastorm\") has been submitted\n"})
	a := NewSGECLI(Config{QsubPEType: "smp"}, runner)

	handles, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi", RequestedSlots: 4})
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, int64(501), handles[0].JobID)
}

func TestSGECLI_StartJob_LogsOperationAndCommand(t *testing.T) {
	runner := newFakeRunner().script("qsub", fakeResponse{stdout: "Your job 501 (\"lavastorm\") has been submitted\n"})
	logger := newRecordingLogger()
	a := NewSGECLI(Config{QsubPEType: "smp", Logger: logger}, runner)

	_, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi", RequestedSlots: 4})
	require.NoError(t, err)
	assert.True(t, logger.hasField("operation", "qsub_submit"))
	assert.True(t, logger.hasField("command", "qsub"))
}

func TestSGECLI_StartJob_Array(t *testing.T) {
	runner := newFakeRunner().script("qsub", fakeResponse{stdout: "Your job-array 502.1-4:1 (\"lavastorm\") has been submitted\n"})
	a := NewSGECLI(Config{}, runner)

	handles, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi", NumTasks: 4})
	require.NoError(t, err)
	require.Len(t, handles, 4)
	assert.Equal(t, 1, handles[0].ArrayIndex)
	assert.Equal(t, 4, handles[3].ArrayIndex)
}

func TestSGECLI_StartJob_SubmitRejected(t *testing.T) {
	runner := newFakeRunner().script("qsub", fakeResponse{stderr: "denied", err: errors.New("exit 1")})
	a := NewSGECLI(Config{}, runner)

	_, err := a.StartJob(context.Background(), StartJobRequest{Command: "echo hi"})
	require.Error(t, err)
}

func TestSGECLI_GetJobs_Live(t *testing.T) {
	runner := newFakeRunner().script("qstat", fakeResponse{stdout: qstatRunning})
	a := NewSGECLI(Config{}, runner)

	views, err := a.GetJobs(context.Background(), 501)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsRunning)
}

func TestSGECLI_GetJobs_FallsBackToAccounting(t *testing.T) {
	runner := newFakeRunner().
		script("qstat", fakeResponse{stdout: qstatEmpty}).
		script("qacct", fakeResponse{stdout: "exit_status 0\nfailed 0\n"})
	a := NewSGECLI(Config{}, runner)

	views, err := a.GetJobs(context.Background(), 501)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsCompleted)
}

func TestSGECLI_GetJobs_AccountingReportsFailure(t *testing.T) {
	runner := newFakeRunner().
		script("qstat", fakeResponse{stdout: qstatEmpty}).
		script("qacct", fakeResponse{stdout: "exit_status 1\nfailed 1\n"})
	a := NewSGECLI(Config{}, runner)

	views, err := a.GetJobs(context.Background(), 501)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsFailed)
}

func TestSGECLI_GetJobs_MissingGraceWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	runner := newFakeRunner()
	a := NewSGECLI(Config{Now: func() time.Time { return current }}, runner)

	for i := 0; i < 3; i++ {
		runner.script("qstat", fakeResponse{stdout: qstatEmpty})
		runner.script("qacct", fakeResponse{err: errors.New("no such job")})
	}

	_, err := a.GetJobs(context.Background(), 777)
	require.Error(t, err)

	current = now.Add(5 * time.Second)
	_, err = a.GetJobs(context.Background(), 777)
	require.Error(t, err)

	current = now.Add(11 * time.Second)
	views, err := a.GetJobs(context.Background(), 777)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].WasKilled)
	assert.True(t, views[0].IsFailed)
}

func TestSGECLI_GetJobs_TransientOnQstatError(t *testing.T) {
	runner := newFakeRunner().script("qstat", fakeResponse{err: errors.New("sge_qmaster unreachable")})
	a := NewSGECLI(Config{}, runner)

	_, err := a.GetJobs(context.Background(), 501)
	require.Error(t, err)
}

func TestSGECLI_Kill_InvokesQdel(t *testing.T) {
	runner := newFakeRunner().
		script("qstat", fakeResponse{stdout: qstatRunning}).
		script("qdel", fakeResponse{stdout: "registered job 501 for deletion"})
	a := NewSGECLI(Config{}, runner)

	views, err := a.GetJobs(context.Background(), 501)
	require.NoError(t, err)
	require.NoError(t, views[0].Kill(context.Background()))
}

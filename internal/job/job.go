// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package job holds the backend-agnostic job lifecycle view the driver
// reconciles against: a read-only snapshot (View), the opaque identity the
// driver retains between polls (Handle), and the normalized state flags
// every backend adapter must produce.
package job

import (
	"context"
	"fmt"
)

// Handle is the opaque identity the driver retains between polls. It is
// never rehydrated to a View until a poll against the backend succeeds.
type Handle struct {
	JobID      int64
	ArrayIndex int // 0 = not part of an array
}

func (h Handle) String() string {
	if h.ArrayIndex == 0 {
		return fmt.Sprintf("%d", h.JobID)
	}
	return fmt.Sprintf("%d[%d]", h.JobID, h.ArrayIndex)
}

// KillFunc performs fire-and-forget termination of a job via its originating
// backend. The backend adapters return a KillFailed error whenever the
// backend's kill call fails, including for a job that no longer exists;
// callers such as the profiles' kill-all log and swallow that error.
type KillFunc func(ctx context.Context) error

// View is an immutable snapshot of a single task's lifecycle state, as
// reported by whichever backend adapter produced it.
type View struct {
	JobID      int64
	ArrayIndex int

	IsRunning   bool
	IsPending   bool
	IsSuspended bool
	IsCompleted bool
	IsFailed    bool
	WasKilled   bool

	kill KillFunc
}

// NewView constructs a View, deriving none of its flags: callers pass the
// already-normalized flag set produced by a backend's state table.
func NewView(jobID int64, arrayIndex int, flags Flags, kill KillFunc) View {
	return View{
		JobID:       jobID,
		ArrayIndex:  arrayIndex,
		IsRunning:   flags.IsRunning,
		IsPending:   flags.IsPending,
		IsSuspended: flags.IsSuspended,
		IsCompleted: flags.IsCompleted,
		IsFailed:    flags.IsFailed,
		WasKilled:   flags.WasKilled,
		kill:        kill,
	}
}

// Handle returns the (job_id, array_index) identity of this view.
func (v View) Handle() Handle {
	return Handle{JobID: v.JobID, ArrayIndex: v.ArrayIndex}
}

// IsActive reports whether the job is pending, running, or suspended.
func (v View) IsActive() bool {
	return v.IsPending || v.IsRunning || v.IsSuspended
}

// IsTerminal reports whether the job has reached a terminal state
// (completed, failed, or killed).
func (v View) IsTerminal() bool {
	return v.IsCompleted || v.IsFailed || v.WasKilled
}

// Terminal classifies the view into one of the three terminal outcomes, or
// NotTerminal if the task is still active.
func (v View) Terminal() TerminalState {
	return Flags{
		IsCompleted: v.IsCompleted,
		IsFailed:    v.IsFailed,
		WasKilled:   v.WasKilled,
	}.Terminal()
}

// Kill fires a fire-and-forget termination request via the backend that
// produced this view. It is a no-op if the view carries no kill function.
func (v View) Kill(ctx context.Context) error {
	if v.kill == nil {
		return nil
	}
	return v.kill(ctx)
}

// Validate checks the state-exclusivity invariant from the specification:
// at least one flag is set, is_completed and is_failed are mutually
// exclusive, and is_running/is_pending are mutually exclusive.
func (v View) Validate() error {
	count := 0
	for _, b := range []bool{v.IsRunning, v.IsPending, v.IsSuspended, v.IsCompleted, v.IsFailed, v.WasKilled} {
		if b {
			count++
		}
	}
	if count == 0 {
		return fmt.Errorf("job %s: no state flag set", v.Handle())
	}
	if v.IsCompleted && v.IsFailed {
		return fmt.Errorf("job %s: is_completed and is_failed both set", v.Handle())
	}
	if v.IsRunning && v.IsPending {
		return fmt.Errorf("job %s: is_running and is_pending both set", v.Handle())
	}
	return nil
}

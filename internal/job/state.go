// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

// Flags is the normalized state-flag set every backend adapter derives from
// its own state encoding before constructing a View.
type Flags struct {
	IsRunning   bool
	IsPending   bool
	IsSuspended bool
	IsCompleted bool
	IsFailed    bool
	WasKilled   bool
}

// TerminalState names one of the three terminal outcomes tracked by the
// profile's monotonic counters.
type TerminalState int

const (
	NotTerminal TerminalState = iota
	TerminalCompleted
	TerminalFailed
	TerminalKilled
)

// Terminal classifies a Flags value into a TerminalState, or NotTerminal if
// the job is still active.
func (f Flags) Terminal() TerminalState {
	switch {
	case f.WasKilled:
		return TerminalKilled
	case f.IsFailed:
		return TerminalFailed
	case f.IsCompleted:
		return TerminalCompleted
	default:
		return NotTerminal
	}
}

// killedAndFailed is the state produced when a job can no longer be found by
// either the live query or the accounting/historical query, after the
// adapter's continuous-failure grace window has elapsed (spec §4.1, §7).
func killedAndFailed() Flags {
	return Flags{WasKilled: true, IsFailed: true}
}

// KilledAndFailed is exported for adapters outside this package.
func KilledAndFailed() Flags { return killedAndFailed() }

// NormalizeOpenLava maps OpenLava's textual job states to normalized
// flags. UNKWN and ZOMBI are mapped to "running" per the optimistic,
// possibly-buggy behaviour spec.md §9 asks implementers to preserve; pass
// treatUnknownAsFailed=true to use the non-optimistic interpretation instead.
func NormalizeOpenLava(state string, treatUnknownAsFailed bool) Flags {
	switch state {
	case "PEND":
		return Flags{IsPending: true}
	case "RUN":
		return Flags{IsRunning: true}
	case "PSUSP", "USUSP", "SSUSP":
		return Flags{IsSuspended: true}
	case "DONE":
		return Flags{IsCompleted: true}
	case "EXIT":
		return Flags{IsFailed: true}
	case "UNKWN", "ZOMBI":
		if treatUnknownAsFailed {
			return Flags{IsFailed: true}
		}
		return Flags{IsRunning: true}
	default:
		// Unrecognized state: treat as a live-but-unclassified job rather
		// than silently dropping it from the active set.
		return Flags{IsRunning: true}
	}
}

// NormalizeSGELive maps SGE's qstat live-job state codes to normalized
// flags.
func NormalizeSGELive(state string) Flags {
	switch state {
	case "qw":
		return Flags{IsPending: true}
	case "r":
		return Flags{IsRunning: true}
	case "s", "S", "T", "t":
		return Flags{IsSuspended: true}
	default:
		return Flags{IsRunning: true}
	}
}

// NormalizeSGEHistorical classifies a finished SGE job from qacct's
// exit_status/failed fields.
func NormalizeSGEHistorical(exitStatus int, failed string) Flags {
	if exitStatus == 0 && (failed == "" || failed == "0") {
		return Flags{IsCompleted: true}
	}
	return Flags{IsFailed: true}
}

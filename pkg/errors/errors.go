// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the backend-agnostic error taxonomy the driver
// classifies every failure into: ConfigError is returned before the control
// loop starts, UserCancelled and IterationLimitReached are the only two the
// control loop itself returns, and everything else is logged and folded
// into counters at the point it is classified.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies which bucket of the taxonomy an error belongs to.
type Code string

const (
	// CodeConfig marks invalid CLI flags or a malformed office-hours range.
	// Fatal: the process exits 1.
	CodeConfig Code = "config_error"

	// CodeSubmitRejected marks a submission whose command exited non-zero
	// or whose output could not be parsed. Logged at WARN; the pending
	// submission is dropped, not retried.
	CodeSubmitRejected Code = "submit_rejected"

	// CodeTransientQuery marks a backend query that failed this tick.
	// Affected handles retain their prior state until the next tick.
	CodeTransientQuery Code = "transient_query_failure"

	// CodeKillFailed marks a kill() call that failed. Always swallowed by
	// the caller; logged at DEBUG.
	CodeKillFailed Code = "kill_failed"

	// CodeIterationLimit marks an orderly batch-profile shutdown once the
	// configured number of batches has been submitted.
	CodeIterationLimit Code = "iteration_limit_reached"

	// CodeUserCancelled marks an OS interrupt. The control loop runs
	// kill-all and exits 0.
	CodeUserCancelled Code = "user_cancelled"
)

// Error is the structured error type every component in this module
// returns; it carries enough context to decide routing (log level, counter,
// exit code) without string matching.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// ConfigError is a convenience constructor for CodeConfig.
func ConfigError(format string, args ...any) *Error {
	return New(CodeConfig, fmt.Sprintf(format, args...))
}

// SubmitRejected is a convenience constructor for CodeSubmitRejected.
func SubmitRejected(cause error, format string, args ...any) *Error {
	return Wrap(CodeSubmitRejected, fmt.Sprintf(format, args...), cause)
}

// TransientQueryFailure is a convenience constructor for CodeTransientQuery.
func TransientQueryFailure(cause error, format string, args ...any) *Error {
	return Wrap(CodeTransientQuery, fmt.Sprintf(format, args...), cause)
}

// KillFailed is a convenience constructor for CodeKillFailed.
func KillFailed(cause error, format string, args ...any) *Error {
	return Wrap(CodeKillFailed, fmt.Sprintf(format, args...), cause)
}

// IterationLimitReached is a convenience constructor for CodeIterationLimit.
func IterationLimitReached(iterations int) *Error {
	return New(CodeIterationLimit, fmt.Sprintf("reached configured iteration limit of %d batches", iterations))
}

// UserCancelled is a convenience constructor for CodeUserCancelled.
func UserCancelled() *Error {
	return New(CodeUserCancelled, "operation cancelled by user interrupt")
}

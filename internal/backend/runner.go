// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/lavastorm/lavastorm/pkg/logging"
)

// CommandRunner abstracts process execution so CLI adapters can be tested
// without spawning real bsub/qstat binaries.
type CommandRunner interface {
	// Run executes name with args and returns its stdout, stderr, and any
	// error exec.Cmd.Run itself returns (including a non-zero exit, as
	// *exec.ExitError).
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs real child processes via os/exec. Each call spawns a
// fresh process; there is no connection pooling for CLI adapters, matching
// the "each CLI call spawns a fresh process" resource model (spec.md §5).
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// runLogged wraps a CommandRunner.Run call with the same
// operation/duration/error logging shape every CLI adapter needs around its
// bsub/bjobs/bhist/bkill (or qsub/qstat/qacct/qdel) invocations, so none of
// them have to repeat it at each call site.
func runLogged(ctx context.Context, logger logging.Logger, runner CommandRunner, operation, name string, args ...string) (stdout, stderr string, err error) {
	start := time.Now()
	opLogger := logging.LogOperation(logger, operation, "command", name, "args", strings.Join(args, " "))

	stdout, stderr, err = runner.Run(ctx, name, args...)

	logging.LogDuration(opLogger, start, operation)
	if err != nil {
		logging.LogError(opLogger, err, operation, "stderr", strings.TrimSpace(stderr))
	}
	return stdout, stderr, err
}

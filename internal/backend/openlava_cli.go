// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lavastorm/lavastorm/internal/job"
	lerrors "github.com/lavastorm/lavastorm/pkg/errors"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

// OpenLavaCLI drives OpenLava through its bsub/bjobs/bhist/bkill command
// line tools. Each call spawns a fresh process; there is no persistent
// connection to the scheduler.
type OpenLavaCLI struct {
	cfg    Config
	runner CommandRunner
	logger logging.Logger

	mu     sync.Mutex
	groups map[int64]*jobGroupState
}

// jobGroupState tracks what an adapter has learned about one job id (array
// or not) across polls, so the live→historical fallback described in
// spec.md §4.1 can be resolved incrementally.
type jobGroupState struct {
	arrayIndices   []int
	firstMissingAt time.Time
	missing        bool
}

// NewOpenLavaCLI constructs an OpenLava CLI adapter. Command names default
// to bsub/bjobs/bhist/bkill when left blank in cfg.
func NewOpenLavaCLI(cfg Config, runner CommandRunner) *OpenLavaCLI {
	if cfg.BsubCommand == "" {
		cfg.BsubCommand = "bsub"
	}
	if cfg.BjobsCommand == "" {
		cfg.BjobsCommand = "bjobs"
	}
	if cfg.BkillCommand == "" {
		cfg.BkillCommand = "bkill"
	}
	if cfg.BhistCommand == "" {
		cfg.BhistCommand = "bhist"
	}
	return &OpenLavaCLI{cfg: cfg, runner: runner, logger: cfg.logger(), groups: make(map[int64]*jobGroupState)}
}

// StartJob submits a job (or array job) via bsub.
func (a *OpenLavaCLI) StartJob(ctx context.Context, req StartJobRequest) ([]job.Handle, error) {
	numTasks := req.NumTasks
	if numTasks < 1 {
		numTasks = 1
	}

	var args []string
	if req.RequestedSlots > 0 {
		args = append(args, "-n", strconv.Itoa(req.RequestedSlots))
	}
	if req.ProjectName != "" {
		args = append(args, "-P", req.ProjectName)
	}
	if req.QueueName != "" {
		args = append(args, "-q", req.QueueName)
	}
	if numTasks > 1 {
		args = append(args, "-J", fmt.Sprintf("lavastorm[1-%d]", numTasks))
	}
	args = append(args, req.Command)

	stdout, stderr, err := runLogged(ctx, a.logger, a.runner, "bsub_submit", a.cfg.BsubCommand, args...)
	if err != nil {
		return nil, lerrors.SubmitRejected(err, "bsub exited non-zero: %s", strings.TrimSpace(stderr))
	}

	jobID, err := parseOpenLavaSubmit(stdout)
	if err != nil {
		return nil, lerrors.SubmitRejected(err, "could not parse bsub output")
	}

	if numTasks <= 1 {
		a.recordGroup(jobID, []int{0})
		return []job.Handle{{JobID: jobID, ArrayIndex: 0}}, nil
	}

	// Array-id discovery: the submission output only named the array id,
	// so enumerate the tasks with a follow-up listing.
	indices, err := a.discoverArrayTasks(ctx, jobID, numTasks)
	if err != nil {
		// Fall back to the sequential indices the request implied; the
		// next reconciliation will correct any mismatch.
		indices = make([]int, numTasks)
		for i := range indices {
			indices[i] = i + 1
		}
	}
	a.recordGroup(jobID, indices)

	handles := make([]job.Handle, len(indices))
	for i, idx := range indices {
		handles[i] = job.Handle{JobID: jobID, ArrayIndex: idx}
	}
	return handles, nil
}

func (a *OpenLavaCLI) discoverArrayTasks(ctx context.Context, jobID int64, numTasks int) ([]int, error) {
	stdout, _, err := runLogged(ctx, a.logger, a.runner, "bjobs_array_discovery", a.cfg.BjobsCommand, "-w", "-a", strconv.FormatInt(jobID, 10))
	if err != nil {
		return nil, err
	}
	rows, err := parseBjobsOutput(stdout)
	if err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(rows))
	for _, r := range rows {
		indices = append(indices, r.ArrayIndex)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("no tasks discovered for array job %d", jobID)
	}
	return indices, nil
}

func (a *OpenLavaCLI) recordGroup(jobID int64, indices []int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.groups[jobID] = &jobGroupState{arrayIndices: indices}
}

// GetJobs resolves all tasks under jobID, applying the live→historical
// fallback and continuous-failure grace window from spec.md §4.1.
func (a *OpenLavaCLI) GetJobs(ctx context.Context, jobID int64) ([]job.View, error) {
	stdout, stderr, err := runLogged(ctx, a.logger, a.runner, "bjobs_query", a.cfg.BjobsCommand, "-w", "-a", strconv.FormatInt(jobID, 10))
	if err == nil {
		if rows, perr := parseBjobsOutput(stdout); perr == nil && len(rows) > 0 {
			a.clearMissing(jobID, rows)
			return rowsToViews(rows, a.normalize, a.killFuncFor), nil
		}
	} else if !isNotFound(stderr) {
		// Transient failure: the scheduler query itself failed (timeout,
		// daemon unreachable, etc). The caller must retain prior state.
		return nil, lerrors.TransientQueryFailure(err, "bjobs query failed for job %d", jobID)
	}

	// Live query says the job is gone (or produced no rows); fall through
	// to the historical query before declaring it lost.
	if view, ok, herr := a.queryHistorical(ctx, jobID); herr == nil && ok {
		a.clearMissingGroup(jobID)
		return view, nil
	}

	return a.handleMissing(jobID)
}

// GetJob resolves a single task's view.
func (a *OpenLavaCLI) GetJob(ctx context.Context, jobID int64, arrayIndex int) (job.View, error) {
	views, err := a.GetJobs(ctx, jobID)
	if err != nil {
		return job.View{}, err
	}
	for _, v := range views {
		if v.ArrayIndex == arrayIndex {
			return v, nil
		}
	}
	return job.View{}, fmt.Errorf("task %d[%d] not present in adapter response", jobID, arrayIndex)
}

func (a *OpenLavaCLI) normalize(state string) job.Flags {
	return job.NormalizeOpenLava(state, a.cfg.TreatUnknownAsFailed)
}

func (a *OpenLavaCLI) killFuncFor(jobID int64, arrayIndex int) job.KillFunc {
	return func(ctx context.Context) error {
		id := strconv.FormatInt(jobID, 10)
		if arrayIndex > 0 {
			id = fmt.Sprintf("%d[%d]", jobID, arrayIndex)
		}
		_, stderr, err := runLogged(ctx, a.logger, a.runner, "bkill", a.cfg.BkillCommand, id)
		if err != nil {
			return lerrors.KillFailed(err, "bkill failed for %s: %s", id, strings.TrimSpace(stderr))
		}
		return nil
	}
}

// queryHistorical consults bhist for a job that bjobs no longer reports.
// ok is false if bhist also has no record of it.
func (a *OpenLavaCLI) queryHistorical(ctx context.Context, jobID int64) ([]job.View, bool, error) {
	stdout, _, err := runLogged(ctx, a.logger, a.runner, "bhist_query", a.cfg.BhistCommand, "-l", strconv.FormatInt(jobID, 10))
	if err != nil {
		return nil, false, err
	}
	if !strings.Contains(stdout, "Done successfully") && !strings.Contains(stdout, "Completed") &&
		!strings.Contains(stdout, "Exited") {
		return nil, false, nil
	}

	a.mu.Lock()
	group, known := a.groups[jobID]
	a.mu.Unlock()
	indices := []int{0}
	if known {
		indices = group.arrayIndices
	}

	flags := job.Flags{IsCompleted: true}
	if strings.Contains(stdout, "Exited") {
		flags = job.Flags{IsFailed: true}
	}

	views := make([]job.View, len(indices))
	for i, idx := range indices {
		views[i] = job.NewView(jobID, idx, flags, nil)
	}
	return views, true, nil
}

func isNotFound(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "not found")
}

func (a *OpenLavaCLI) clearMissing(jobID int64, rows []openLavaBjobsRow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[jobID]
	if !ok {
		g = &jobGroupState{}
		a.groups[jobID] = g
	}
	indices := make([]int, len(rows))
	for i, r := range rows {
		indices[i] = r.ArrayIndex
	}
	g.arrayIndices = indices
	g.missing = false
}

func (a *OpenLavaCLI) clearMissingGroup(jobID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok := a.groups[jobID]; ok {
		g.missing = false
	}
}

// handleMissing implements the 10-second continuous-failure grace window:
// the first tick a job is unreachable via both live and historical query
// starts the clock; once it elapses the job is reported was_killed ∧
// is_failed, otherwise the caller sees a TransientQueryFailure and keeps
// the handle's prior state.
func (a *OpenLavaCLI) handleMissing(jobID int64) ([]job.View, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[jobID]
	if !ok {
		g = &jobGroupState{arrayIndices: []int{0}}
		a.groups[jobID] = g
	}
	if !g.missing {
		g.missing = true
		g.firstMissingAt = a.cfg.now()
		return nil, lerrors.TransientQueryFailure(nil, "job %d missing from live and historical query", jobID)
	}
	if a.cfg.now().Sub(g.firstMissingAt) < a.cfg.historicalRetryWindow() {
		return nil, lerrors.TransientQueryFailure(nil, "job %d still missing, within grace window", jobID)
	}

	flags := job.KilledAndFailed()
	views := make([]job.View, len(g.arrayIndices))
	for i, idx := range g.arrayIndices {
		views[i] = job.NewView(jobID, idx, flags, nil)
	}
	delete(a.groups, jobID)
	return views, nil
}

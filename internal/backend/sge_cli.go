// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/lavastorm/lavastorm/internal/job"
	lerrors "github.com/lavastorm/lavastorm/pkg/errors"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

// SGECLI drives Sun Grid Engine (and compatible forks) through its
// qsub/qstat/qacct/qdel command line tools.
type SGECLI struct {
	cfg    Config
	runner CommandRunner
	logger logging.Logger

	mu     sync.Mutex
	groups map[int64]*jobGroupState
}

// NewSGECLI constructs an SGE CLI adapter. Command names default to
// qsub/qstat/qacct/qdel when left blank in cfg.
func NewSGECLI(cfg Config, runner CommandRunner) *SGECLI {
	if cfg.QsubCommand == "" {
		cfg.QsubCommand = "qsub"
	}
	if cfg.QstatCommand == "" {
		cfg.QstatCommand = "qstat"
	}
	if cfg.QacctCommand == "" {
		cfg.QacctCommand = "qacct"
	}
	if cfg.QdelCommand == "" {
		cfg.QdelCommand = "qdel"
	}
	return &SGECLI{cfg: cfg, runner: runner, logger: cfg.logger(), groups: make(map[int64]*jobGroupState)}
}

func (a *SGECLI) StartJob(ctx context.Context, req StartJobRequest) ([]job.Handle, error) {
	numTasks := req.NumTasks
	if numTasks < 1 {
		numTasks = 1
	}

	args := []string{"-b", "y", "-cwd"}
	if req.RequestedSlots > 0 && a.cfg.QsubPEType != "" {
		args = append(args, "-pe", a.cfg.QsubPEType, strconv.Itoa(req.RequestedSlots))
	}
	if req.ProjectName != "" {
		args = append(args, "-P", req.ProjectName)
	}
	if req.QueueName != "" {
		args = append(args, "-q", req.QueueName)
	}
	if numTasks > 1 {
		args = append(args, "-t", fmt.Sprintf("1-%d", numTasks))
	}
	args = append(args, req.Command)

	stdout, stderr, err := runLogged(ctx, a.logger, a.runner, "qsub_submit", a.cfg.QsubCommand, args...)
	if err != nil {
		return nil, lerrors.SubmitRejected(err, "qsub exited non-zero: %s", strings.TrimSpace(stderr))
	}

	jobID, err := parseSGESubmit(stdout)
	if err != nil {
		return nil, lerrors.SubmitRejected(err, "could not parse qsub output")
	}

	indices := make([]int, numTasks)
	for i := range indices {
		if numTasks == 1 {
			indices[i] = 0
		} else {
			indices[i] = i + 1
		}
	}
	a.mu.Lock()
	a.groups[jobID] = &jobGroupState{arrayIndices: indices}
	a.mu.Unlock()

	handles := make([]job.Handle, numTasks)
	for i, idx := range indices {
		handles[i] = job.Handle{JobID: jobID, ArrayIndex: idx}
	}
	return handles, nil
}

func (a *SGECLI) GetJobs(ctx context.Context, jobID int64) ([]job.View, error) {
	stdout, _, err := runLogged(ctx, a.logger, a.runner, "qstat_query", a.cfg.QstatCommand, "-g", "d", "-xml")
	if err == nil {
		allRows, perr := parseQstatXML([]byte(stdout))
		if perr == nil {
			var rows []openLavaBjobsRow
			for _, r := range allRows {
				if r.JobID == jobID {
					rows = append(rows, r)
				}
			}
			if len(rows) > 0 {
				a.clearMissing(jobID, rows)
				return rowsToViews(rows, job.NormalizeSGELive, a.killFuncFor), nil
			}
		}
	} else {
		return nil, lerrors.TransientQueryFailure(err, "qstat query failed for job %d", jobID)
	}

	if views, ok := a.queryAccounting(ctx, jobID); ok {
		a.clearMissingGroup(jobID)
		return views, nil
	}

	return a.handleMissingSGE(jobID)
}

func (a *SGECLI) GetJob(ctx context.Context, jobID int64, arrayIndex int) (job.View, error) {
	views, err := a.GetJobs(ctx, jobID)
	if err != nil {
		return job.View{}, err
	}
	for _, v := range views {
		if v.ArrayIndex == arrayIndex {
			return v, nil
		}
	}
	return job.View{}, fmt.Errorf("task %d.%d not present in adapter response", jobID, arrayIndex)
}

func (a *SGECLI) killFuncFor(jobID int64, arrayIndex int) job.KillFunc {
	return func(ctx context.Context) error {
		id := strconv.FormatInt(jobID, 10)
		args := []string{id}
		if arrayIndex > 0 {
			args = []string{"-t", strconv.Itoa(arrayIndex), id}
		}
		_, stderr, err := runLogged(ctx, a.logger, a.runner, "qdel", a.cfg.QdelCommand, args...)
		if err != nil {
			return lerrors.KillFailed(err, "qdel failed for %s: %s", id, strings.TrimSpace(stderr))
		}
		return nil
	}
}

func (a *SGECLI) queryAccounting(ctx context.Context, jobID int64) ([]job.View, bool) {
	a.mu.Lock()
	group, known := a.groups[jobID]
	a.mu.Unlock()
	indices := []int{0}
	if known {
		indices = group.arrayIndices
	}

	views := make([]job.View, 0, len(indices))
	anyFound := false
	for _, idx := range indices {
		args := []string{"-j", strconv.FormatInt(jobID, 10)}
		if idx > 0 {
			args = append(args, "-t", strconv.Itoa(idx))
		}
		stdout, _, err := runLogged(ctx, a.logger, a.runner, "qacct_query", a.cfg.QacctCommand, args...)
		if err != nil {
			continue
		}
		exitStatus, failed, _ := parseQacctOutput(stdout)
		anyFound = true
		views = append(views, job.NewView(jobID, idx, job.NormalizeSGEHistorical(exitStatus, failed), nil))
	}
	return views, anyFound
}

func (a *SGECLI) clearMissing(jobID int64, rows []openLavaBjobsRow) {
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

func (a *SGECLI) clearMissingGroup(jobID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok := a.groups[jobID]; ok {
		g.missing = false
	}
}

func (a *SGECLI) handleMissingSGE(jobID int64) ([]job.View, error) {
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

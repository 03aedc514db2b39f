// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package backend implements the pluggable scheduler adapter contract: a
// small capability set (submit, query one, query group, kill) with a tagged
// variant per backend, rather than a deep inheritance hierarchy. Shared
// helpers (state-table translation, array-id enumeration) are free
// functions selected by the variant.
package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/lavastorm/lavastorm/internal/job"
	lerrors "github.com/lavastorm/lavastorm/pkg/errors"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

// StartJobRequest carries the parameters needed to submit a single job or,
// when NumTasks > 1, an array job.
type StartJobRequest struct {
	Command        string
	RequestedSlots int
	ProjectName    string
	QueueName      string
	NumTasks       int
}

// Manager is the contract every scheduler adapter implements.
type Manager interface {
	// StartJob submits a job and returns one handle (array_index 0) or,
	// for an array submission, NumTasks handles with array_index 1..N.
	// It fails with a SubmitRejected error if the backend's submission
	// command exits non-zero or its output cannot be parsed.
	StartJob(ctx context.Context, req StartJobRequest) ([]job.Handle, error)

	// GetJobs returns all tasks under an array id (single-element for
	// non-arrays).
	GetJobs(ctx context.Context, jobID int64) ([]job.View, error)

	// GetJob returns a single task's view.
	GetJob(ctx context.Context, jobID int64, arrayIndex int) (job.View, error)
}

// Kind names a supported --scheduler value.
type Kind string

const (
	KindSGECLI             Kind = "sge_cli"
	KindOpenLavaCLI        Kind = "openlava_cli"
	KindOpenLavaClusterAPI Kind = "openlava_cluster_api"
	KindOpenLavaWeb        Kind = "openlava_web"
	KindOpenLavaCAPI       Kind = "openlava_c_api"
)

// Config collects every backend-specific flag surfaced by the CLI (spec.md
// §6). Only the fields relevant to the selected Kind are consulted.
type Config struct {
	Kind Kind

	// OpenLava CLI
	BsubCommand  string
	BjobsCommand string
	BhistCommand string
	BkillCommand string

	// SGE CLI
	QsubCommand  string
	QstatCommand string
	QacctCommand string
	QdelCommand  string
	QsubPEType   string

	// OpenLava-Web REST
	URL      string
	Username string
	Password string

	// Shared tuning knobs
	TreatUnknownAsFailed  bool
	HistoricalRetryWindow time.Duration
	PollInterval          time.Duration
	Now                   func() time.Time

	// Logger receives one LogOperation/LogAPICall entry per adapter round
	// trip (submit, query, kill). Defaults to logging.NoOpLogger{}.
	Logger logging.Logger
}

func (c Config) logger() logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.NoOpLogger{}
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Config) historicalRetryWindow() time.Duration {
	if c.HistoricalRetryWindow > 0 {
		return c.HistoricalRetryWindow
	}
	return 10 * time.Second
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 2 * time.Second
}

// NewManager selects and constructs the Manager implementation for
// cfg.Kind. openlava_c_api and openlava_cluster_api are named in spec.md §6
// but are Non-goals for this repository (no cgo boundary); selecting either
// returns a ConfigError, consistent with spec.md §7's propagation policy.
func NewManager(cfg Config) (Manager, error) {
	switch cfg.Kind {
	case KindOpenLavaCLI:
		return NewOpenLavaCLI(cfg, ExecRunner{}), nil
	case KindSGECLI:
		return NewSGECLI(cfg, ExecRunner{}), nil
	case KindOpenLavaWeb:
		return NewOpenLavaWeb(cfg, http.DefaultClient), nil
	case KindOpenLavaClusterAPI, KindOpenLavaCAPI:
		return nil, lerrors.ConfigError("--scheduler %q is not implemented by this build (no cgo boundary)", cfg.Kind)
	default:
		return nil, lerrors.ConfigError("unrecognised --scheduler %q", cfg.Kind)
	}
}

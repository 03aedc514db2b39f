// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lavastorm/lavastorm/internal/job"
	lerrors "github.com/lavastorm/lavastorm/pkg/errors"
	"github.com/lavastorm/lavastorm/pkg/logging"
	"github.com/lavastorm/lavastorm/pkg/retry"
)

// OpenLavaWeb drives OpenLava through its JSON REST bridge. Unlike the CLI
// adapters it reuses a single authenticated HTTP session rather than
// spawning one process per call (spec.md §5).
type OpenLavaWeb struct {
	cfg     Config
	client  *http.Client
	backoff retry.Backoff
	logger  logging.Logger

	mu     sync.Mutex
	groups map[int64][]int
	cookie string
}

// NewOpenLavaWeb constructs a REST adapter against cfg.URL, authenticating
// lazily on first use with cfg.Username/cfg.Password. Every round trip is
// wrapped in an exponential-backoff retry so a single dropped connection or
// 5xx response doesn't immediately classify the whole tick as a
// TransientQueryFailure.
func NewOpenLavaWeb(cfg Config, client *http.Client) *OpenLavaWeb {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenLavaWeb{cfg: cfg, client: client, backoff: retry.NewExponentialBackoff(), logger: cfg.logger(), groups: make(map[int64][]int)}
}

type webSubmitTask struct {
	JobID      int64 `json:"job_id"`
	ArrayIndex int   `json:"array_index"`
}

type webJobView struct {
	JobID      int64  `json:"job_id"`
	ArrayIndex int    `json:"array_index"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	WasKilled  bool   `json:"was_killed"`
}

func (a *OpenLavaWeb) StartJob(ctx context.Context, req StartJobRequest) ([]job.Handle, error) {
	if err := a.authenticate(ctx); err != nil {
		return nil, err
	}

	numTasks := req.NumTasks
	if numTasks < 1 {
		numTasks = 1
	}
	payload := map[string]any{
		"command":   req.Command,
		"slots":     req.RequestedSlots,
		"project":   req.ProjectName,
		"queue":     req.QueueName,
		"num_tasks": numTasks,
	}

	var tasks []webSubmitTask
	if err := a.doJSON(ctx, http.MethodPost, "/jobs", payload, &tasks); err != nil {
		return nil, lerrors.SubmitRejected(err, "submission request to %s failed", a.cfg.URL)
	}
	if len(tasks) == 0 {
		return nil, lerrors.SubmitRejected(nil, "submission response named no job descriptors")
	}

	handles := make([]job.Handle, len(tasks))
	indices := make([]int, len(tasks))
	for i, t := range tasks {
		handles[i] = job.Handle{JobID: t.JobID, ArrayIndex: t.ArrayIndex}
		indices[i] = t.ArrayIndex
	}
	a.mu.Lock()
	a.groups[handles[0].JobID] = indices
	a.mu.Unlock()

	return handles, nil
}

func (a *OpenLavaWeb) GetJobs(ctx context.Context, jobID int64) ([]job.View, error) {
	if err := a.authenticate(ctx); err != nil {
		return nil, err
	}

	var views []webJobView
	path := fmt.Sprintf("/jobs/%d", jobID)
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &views); err != nil {
		return nil, lerrors.TransientQueryFailure(err, "job query to %s failed", a.cfg.URL)
	}
	if len(views) == 0 {
		return nil, lerrors.TransientQueryFailure(nil, "job %d not present in response", jobID)
	}

	indices := make([]int, len(views))
	out := make([]job.View, len(views))
	for i, v := range views {
		indices[i] = v.ArrayIndex
		out[i] = job.NewView(v.JobID, v.ArrayIndex, normalizeWeb(v), a.killFuncFor(v.JobID, v.ArrayIndex))
	}
	a.mu.Lock()
	a.groups[jobID] = indices
	a.mu.Unlock()
	return out, nil
}

func (a *OpenLavaWeb) GetJob(ctx context.Context, jobID int64, arrayIndex int) (job.View, error) {
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

func normalizeWeb(v webJobView) job.Flags {
	if v.WasKilled {
		return job.Flags{WasKilled: true, IsFailed: true}
	}
	switch strings.ToLower(v.Status) {
	case "pending", "queued":
		return job.Flags{IsPending: true}
	case "running":
		return job.Flags{IsRunning: true}
	case "suspended":
		return job.Flags{IsSuspended: true}
	case "completed", "done":
		return job.Flags{IsCompleted: true}
	case "failed", "exited":
		return job.Flags{IsFailed: true}
	default:
		return job.Flags{IsRunning: true}
	}
}

func (a *OpenLavaWeb) killFuncFor(jobID int64, arrayIndex int) job.KillFunc {
	return func(ctx context.Context) error {
		path := fmt.Sprintf("/jobs/%d", jobID)
		if arrayIndex > 0 {
			path = fmt.Sprintf("/jobs/%d/%d", jobID, arrayIndex)
		}
		if err := a.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
			return lerrors.KillFailed(err, "kill request to %s failed", a.cfg.URL)
		}
		return nil
	}
}

func (a *OpenLavaWeb) authenticate(ctx context.Context) error {
	a.mu.Lock()
	already := a.cookie != ""
	a.mu.Unlock()
	if already || a.cfg.Username == "" {
		return nil
	}

	body := map[string]string{"username": a.cfg.Username, "password": a.cfg.Password}
	var result struct {
		SessionID string `json:"session_id"`
	}
	if err := a.doJSON(ctx, http.MethodPost, "/auth/login", body, &result); err != nil {
		return lerrors.ConfigError("authentication against %s failed: %v", a.cfg.URL, err)
	}

	a.mu.Lock()
	a.cookie = result.SessionID
	a.mu.Unlock()
	return nil
}

func (a *OpenLavaWeb) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	start := time.Now()
	apiLogger := logging.LogAPICall(a.logger, method, path)

	data, err := retry.DoWithResult(ctx, a.backoff, func() ([]byte, error) {
		return a.roundTrip(ctx, method, path, encoded)
	})

	logging.LogDuration(apiLogger, start, "openlava_web_request")
	if err != nil {
		logging.LogError(apiLogger, err, "openlava_web_request")
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// roundTrip performs a single HTTP attempt. retry.DoWithResult retries any
// error it returns, including 4xx and 5xx status codes.
func (a *OpenLavaWeb) roundTrip(ctx context.Context, method, path string, encoded []byte) ([]byte, error) {
	var reqBody io.Reader
	if encoded != nil {
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.cfg.URL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.mu.Lock()
	cookie := a.cookie
	a.mu.Unlock()
	if cookie != "" {
		req.Header.Set("Cookie", "session_id="+cookie)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

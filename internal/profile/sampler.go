// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package profile implements the demand-shaping engines (Steady and Batch)
// that decide when and how many synthetic jobs to submit.
package profile

import (
	"fmt"
	"math/rand"
	"time"
)

// SamplerConfig holds the randomised-parameter ranges and submission targets
// shared by every profile variant (spec.md §3's "Configuration" fields).
type SamplerConfig struct {
	MinRuntimeSeconds, MaxRuntimeSeconds         int
	MinObservationSeconds, MaxObservationSeconds int
	MinProcessors, MaxProcessors                 int
	MinTasksPerJob, MaxTasksPerJob               int
	FailureRate                                  int // 0-100
	OfficeHours                                  []Interval
	Projects                                     []string
	Queues                                []string // sampled independently of Projects; see Queue below
}

// Sampler draws the randomised job parameters described in spec.md §4.3.
// It wraps its own *rand.Rand so tests can substitute a seeded source for
// deterministic distributions (S3's 10,000-command failure-rate check).
type Sampler struct {
	cfg SamplerConfig
	rng *rand.Rand
}

// NewSampler constructs a Sampler. If rng is nil, a time-seeded source is
// used.
func NewSampler(cfg SamplerConfig, rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Sampler{cfg: cfg, rng: rng}
}

func (s *Sampler) uniform(min, max int) int {
	if max <= min {
		return min
	}
	return min + s.rng.Intn(max-min+1)
}

// RuntimeSeconds samples a task's nominal runtime in [MinRuntimeSeconds,
// MaxRuntimeSeconds].
func (s *Sampler) RuntimeSeconds() int {
	return s.uniform(s.cfg.MinRuntimeSeconds, s.cfg.MaxRuntimeSeconds)
}

// NumProcessors samples the requested slot count.
func (s *Sampler) NumProcessors() int {
	return s.uniform(s.cfg.MinProcessors, s.cfg.MaxProcessors)
}

// NumTasks samples the array size for one submission.
func (s *Sampler) NumTasks() int {
	return s.uniform(s.cfg.MinTasksPerJob, s.cfg.MaxTasksPerJob)
}

// ObservationSeconds samples the simulated human delay between a job
// finishing and the next one being queued.
func (s *Sampler) ObservationSeconds() int {
	return s.uniform(s.cfg.MinObservationSeconds, s.cfg.MaxObservationSeconds)
}

// NextStartTime returns now plus a sampled observation delay (spec.md
// §4.3's get_next_start_time).
func (s *Sampler) NextStartTime(now time.Time) time.Time {
	return now.Add(time.Duration(s.ObservationSeconds()) * time.Second)
}

// Project picks a uniformly random project name, or "" if none are
// configured (backend default).
func (s *Sampler) Project() string {
	return s.pick(s.cfg.Projects)
}

// Queue picks a uniformly random queue name, or "" if none are configured.
// Queues are sampled from cfg.Queues, not cfg.Projects — see spec.md §9's
// note on a historical variant that sampled the wrong list.
func (s *Sampler) Queue() string {
	return s.pick(s.cfg.Queues)
}

func (s *Sampler) pick(choices []string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[s.rng.Intn(len(choices))]
}

// IsActive reports whether now falls inside the configured office hours.
func (s *Sampler) IsActive(now time.Time) bool {
	return IsActive(now, s.cfg.OfficeHours)
}

// CreateJobCommand returns the opaque shell command a task executes:
// "sleep <R>; exit <E>". With probability FailureRate/100 the task exits 1
// after an early, uniformly-shortened runtime; otherwise it exits 0 after
// the full sampled runtime (spec.md §4.3).
func (s *Sampler) CreateJobCommand() string {
	r := s.RuntimeSeconds()
	exitCode := 0
	if s.rng.Intn(100) < s.cfg.FailureRate {
		exitCode = 1
		r = s.uniform(0, r)
	}
	return fmt.Sprintf("sleep %d; exit %d", r, exitCode)
}

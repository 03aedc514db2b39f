// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config assembles the driver's configuration from, in increasing
// precedence order, built-in defaults, an optional YAML file (--config),
// environment variables, and CLI flags — then validates it and converts it
// into the internal/backend.Config and internal/profile.SamplerConfig each
// component actually consumes.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lavastorm/lavastorm/internal/backend"
	"github.com/lavastorm/lavastorm/internal/profile"
	lerrors "github.com/lavastorm/lavastorm/pkg/errors"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

// ConfigFileFromArgs scans raw CLI args for --config/-c, either as a
// separate token ("--config path.yaml") or joined with "=" ("--config=path.yaml").
// It exists so the YAML file can be loaded, and LAVASTORM_-prefixed env vars
// applied, *before* cobra's own flags are registered — flags are bound with
// those already-layered values as their defaults, so an explicitly-passed
// flag is never clobbered by a later LoadFile/LoadEnv call (see Resolve).
func ConfigFileFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case a == "--config" || a == "-c":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

// Resolve builds a Config from built-in defaults overlaid with an optional
// YAML file (discovered via ConfigFileFromArgs) and then LAVASTORM_-prefixed
// environment variables. Callers bind CLI flags to the returned Config's
// fields afterwards, so cobra's flag parsing is the last, highest-precedence
// layer applied.
func Resolve(args []string) (*Config, error) {
	cfg := NewDefault()
	if path := ConfigFileFromArgs(args); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}
	cfg.LoadEnv()
	return cfg, nil
}

// ProfileKind names the baseload/submitbatch sub-command selected.
type ProfileKind string

const (
	ProfileBaseload    ProfileKind = "baseload"
	ProfileSubmitBatch ProfileKind = "submitbatch"
)

// Config is the fully-resolved set of knobs the driver needs to build a
// Sampler, a backend.Manager, and the profile itself (spec.md §6).
type Config struct {
	// Global sampling ranges (spec.md §6).
	FailureRate           int    `yaml:"failure_rate"`
	OfficeHours           string `yaml:"office_hours"`
	MinRuntimeSeconds     int    `yaml:"min_runtime"`
	MaxRuntimeSeconds     int    `yaml:"max_runtime"`
	MinObservationSeconds int    `yaml:"min_observation_time"`
	MaxObservationSeconds int    `yaml:"max_observation_time"`
	MinNumProcessors      int    `yaml:"min_num_processors"`
	MaxNumProcessors      int    `yaml:"max_num_processors"`
	MinTasksPerJob        int    `yaml:"min_tasks_per_job"`
	MaxTasksPerJob        int    `yaml:"max_tasks_per_job"`

	// Targets.
	Queues   []string `yaml:"queue"`
	Projects []string `yaml:"project"`

	// Backend selection.
	Scheduler string        `yaml:"scheduler"`
	Backend   BackendConfig `yaml:"backend"`

	// Profile selection.
	Profile     ProfileKind `yaml:"-"`
	BaseLoad    int         `yaml:"base_load"`
	MinPerBatch int         `yaml:"min_num_jobs_per_batch"`
	MaxPerBatch int         `yaml:"max_num_jobs_per_batch"`
	Iterations  int         `yaml:"iterations"`

	// Ambient/expansion surface.
	ConfigFile  string `yaml:"-"`
	MetricsAddr string `yaml:"metrics_addr"`
	StatusAddr  string `yaml:"status_addr"`
	LogFormat   string `yaml:"log_format"`
	LogLevel    string `yaml:"log_level"`
	DryRun      bool   `yaml:"-"`
}

// BackendConfig carries every backend-specific flag named in spec.md §6.
type BackendConfig struct {
	BsubCommand  string `yaml:"bsub_command"`
	BjobsCommand string `yaml:"bjobs_command"`
	BhistCommand string `yaml:"bhist_command"`
	BkillCommand string `yaml:"bkill_command"`

	QsubCommand  string `yaml:"qsub_command"`
	QstatCommand string `yaml:"qstat_command"`
	QacctCommand string `yaml:"qacct_command"`
	QdelCommand  string `yaml:"qdel_command"`
	QsubPEType   string `yaml:"qsub_pe_type"`

	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NewDefault returns a Config with spec.md's built-in defaults: a 10%
// failure rate, single-task single-processor jobs running for a minute,
// always-on office hours, and the steady/baseload profile with a base load
// of one.
func NewDefault() *Config {
	return &Config{
		FailureRate:           10,
		MinRuntimeSeconds:     60,
		MaxRuntimeSeconds:     60,
		MinObservationSeconds: 0,
		MaxObservationSeconds: 0,
		MinNumProcessors:      1,
		MaxNumProcessors:      1,
		MinTasksPerJob:        1,
		MaxTasksPerJob:        1,
		Scheduler:             string(backend.KindOpenLavaCLI),
		Profile:               ProfileBaseload,
		BaseLoad:              1,
		MinPerBatch:           1,
		MaxPerBatch:           1,
		LogFormat:             "text",
		LogLevel:              "info",
	}
}

// LoadFile unmarshals path as YAML on top of the receiver's current values;
// fields absent from the file are left untouched. Call this before
// applying environment variables and flags, which both take precedence.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return lerrors.ConfigError("reading config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return lerrors.ConfigError("parsing config file %s: %v", path, err)
	}
	return nil
}

// LoadEnv overlays a fixed set of LAVASTORM_-prefixed environment variables,
// applied after the YAML file and before flags (flags always win).
func (c *Config) LoadEnv() {
	if v := os.Getenv("LAVASTORM_SCHEDULER"); v != "" {
		c.Scheduler = v
	}
	if v := os.Getenv("LAVASTORM_FAILURE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FailureRate = n
		}
	}
	if v := os.Getenv("LAVASTORM_OFFICE_HOURS"); v != "" {
		c.OfficeHours = v
	}
	if v := os.Getenv("LAVASTORM_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("LAVASTORM_USERNAME"); v != "" {
		c.Backend.Username = v
	}
	if v := os.Getenv("LAVASTORM_PASSWORD"); v != "" {
		c.Backend.Password = v
	}
	if v := os.Getenv("LAVASTORM_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("LAVASTORM_STATUS_ADDR"); v != "" {
		c.StatusAddr = v
	}
}

// Validate checks the invariants spec.md §7 requires a ConfigError for:
// well-formed ranges, a recognised scheduler, and a parseable office-hours
// string. It returns the parsed intervals alongside so callers don't parse
// office hours twice.
func (c *Config) Validate() ([]profile.Interval, error) {
	if c.FailureRate < 0 || c.FailureRate > 100 {
		return nil, lerrors.ConfigError("failure_rate must be between 0 and 100, got %d", c.FailureRate)
	}
	if c.MinRuntimeSeconds <= 0 || c.MaxRuntimeSeconds < c.MinRuntimeSeconds {
		return nil, lerrors.ConfigError("invalid runtime range [%d, %d]", c.MinRuntimeSeconds, c.MaxRuntimeSeconds)
	}
	if c.MaxObservationSeconds < c.MinObservationSeconds || c.MinObservationSeconds < 0 {
		return nil, lerrors.ConfigError("invalid observation time range [%d, %d]", c.MinObservationSeconds, c.MaxObservationSeconds)
	}
	if c.MinNumProcessors <= 0 || c.MaxNumProcessors < c.MinNumProcessors {
		return nil, lerrors.ConfigError("invalid processor range [%d, %d]", c.MinNumProcessors, c.MaxNumProcessors)
	}
	if c.MinTasksPerJob <= 0 || c.MaxTasksPerJob < c.MinTasksPerJob {
		return nil, lerrors.ConfigError("invalid tasks-per-job range [%d, %d]", c.MinTasksPerJob, c.MaxTasksPerJob)
	}

	switch backend.Kind(c.Scheduler) {
	case backend.KindSGECLI, backend.KindOpenLavaCLI, backend.KindOpenLavaWeb:
	case backend.KindOpenLavaClusterAPI, backend.KindOpenLavaCAPI:
		return nil, lerrors.ConfigError("--scheduler %q is not implemented by this build (no cgo boundary)", c.Scheduler)
	default:
		return nil, lerrors.ConfigError("unrecognised --scheduler %q", c.Scheduler)
	}

	intervals, err := profile.ParseOfficeHours(c.OfficeHours)
	if err != nil {
		return nil, lerrors.ConfigError("malformed --office_hours %q: %v", c.OfficeHours, err)
	}

	switch c.Profile {
	case ProfileBaseload:
		if c.BaseLoad <= 0 {
			return nil, lerrors.ConfigError("--base_load must be positive, got %d", c.BaseLoad)
		}
	case ProfileSubmitBatch:
		if c.MinPerBatch <= 0 || c.MaxPerBatch < c.MinPerBatch {
			return nil, lerrors.ConfigError("invalid batch size range [%d, %d]", c.MinPerBatch, c.MaxPerBatch)
		}
	default:
		return nil, lerrors.ConfigError("a profile sub-command (baseload or submitbatch) is required")
	}

	return intervals, nil
}

// SamplerConfig converts the resolved Config into the profile.SamplerConfig
// every profile variant samples from. intervals is the office-hours
// parse result from Validate, passed in to avoid re-parsing.
func (c *Config) SamplerConfig(intervals []profile.Interval) profile.SamplerConfig {
	return profile.SamplerConfig{
		MinRuntimeSeconds:     c.MinRuntimeSeconds,
		MaxRuntimeSeconds:     c.MaxRuntimeSeconds,
		MinObservationSeconds: c.MinObservationSeconds,
		MaxObservationSeconds: c.MaxObservationSeconds,
		MinProcessors:         c.MinNumProcessors,
		MaxProcessors:         c.MaxNumProcessors,
		MinTasksPerJob:        c.MinTasksPerJob,
		MaxTasksPerJob:        c.MaxTasksPerJob,
		FailureRate:           c.FailureRate,
		OfficeHours:           intervals,
		Projects:              c.Projects,
		Queues:                c.Queues,
	}
}

// BackendManagerConfig converts the resolved Config into the
// internal/backend.Config the selected adapter constructor consumes.
// logger receives one entry per adapter round trip; pass nil for
// logging.NoOpLogger{}.
func (c *Config) BackendManagerConfig(logger logging.Logger) backend.Config {
	return backend.Config{
		Kind:   backend.Kind(c.Scheduler),
		Logger: logger,

		BsubCommand:  c.Backend.BsubCommand,
		BjobsCommand: c.Backend.BjobsCommand,
		BhistCommand: c.Backend.BhistCommand,
		BkillCommand: c.Backend.BkillCommand,

		QsubCommand:  c.Backend.QsubCommand,
		QstatCommand: c.Backend.QstatCommand,
		QacctCommand: c.Backend.QacctCommand,
		QdelCommand:  c.Backend.QdelCommand,
		QsubPEType:   c.Backend.QsubPEType,

		URL:      c.Backend.URL,
		Username: c.Backend.Username,
		Password: c.Backend.Password,
	}
}

// PollInterval reports a fixed 2-second adapter query cadence. It is not
// configurable from the CLI, and neither cmd/lavastorm nor
// BackendManagerConfig reads it.
func (c *Config) PollInterval() time.Duration { return 2 * time.Second }

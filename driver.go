// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package lavastorm is the embeddable counterpart of cmd/lavastorm: it
// assembles a Sampler, a backend.Manager, and a control.Loop from a
// pkg/config.Config and runs them, so a host program can drive a synthetic
// workload without shelling out to the CLI binary.
package lavastorm

import (
	"context"
	"time"

	"github.com/lavastorm/lavastorm/internal/backend"
	"github.com/lavastorm/lavastorm/internal/control"
	"github.com/lavastorm/lavastorm/internal/profile"
	"github.com/lavastorm/lavastorm/pkg/config"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

// Driver owns one profile's worth of job-lifecycle simulation against one
// scheduler backend for the lifetime of Run.
type Driver struct {
	profile profile.Profile
	loop    *control.Loop
}

// DriverOption configures a Driver beyond what cfg alone determines.
type DriverOption func(*driverSettings)

type driverSettings struct {
	logger logging.Logger
	onTick func(p profile.Profile)
	tick   time.Duration
}

// WithLogger supplies the logger the control loop and backend adapters log
// through. Defaults to logging.NoOpLogger{}.
func WithLogger(logger logging.Logger) DriverOption {
	return func(s *driverSettings) { s.logger = logger }
}

// WithOnTick registers a callback invoked once per control-loop tick with
// the live profile, so a host program can push its own metrics/status
// without this package depending on pkg/metrics or pkg/status directly.
func WithOnTick(fn func(p profile.Profile)) DriverOption {
	return func(s *driverSettings) { s.onTick = fn }
}

// WithTickInterval overrides the control loop's default tick period.
// Mainly useful for tests that would otherwise wait out control.Loop's
// real-world default interval.
func WithTickInterval(d time.Duration) DriverOption {
	return func(s *driverSettings) { s.tick = d }
}

// New validates cfg, constructs the backend.Manager it names, and wires up
// the profile (baseload or submitbatch) and control loop cfg.Profile
// selects. It does not start anything; call Run to drive it.
func New(cfg *config.Config, opts ...DriverOption) (*Driver, error) {
	intervals, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	settings := &driverSettings{logger: logging.NoOpLogger{}}
	for _, opt := range opts {
		opt(settings)
	}

	manager, err := backend.NewManager(cfg.BackendManagerConfig(settings.logger))
	if err != nil {
		return nil, err
	}

	return newDriver(cfg, manager, intervals, settings), nil
}

// newDriver builds the profile and control loop around an already-resolved
// backend.Manager. Split out from New so tests can substitute
// backend.NewFake() without this package depending on internal/backend's
// test-only constructors from its exported API.
func newDriver(cfg *config.Config, manager backend.Manager, intervals []profile.Interval, settings *driverSettings) *Driver {
	sampler := profile.NewSampler(cfg.SamplerConfig(intervals), nil)

	var p profile.Profile
	switch cfg.Profile {
	case config.ProfileSubmitBatch:
		p = profile.NewBatch(manager, sampler, settings.logger, cfg.MinPerBatch, cfg.MaxPerBatch, cfg.Iterations)
	default:
		p = profile.NewSteady(manager, sampler, settings.logger, cfg.BaseLoad)
	}

	loopOpts := []control.Option{control.WithLogger(settings.logger)}
	if settings.onTick != nil {
		loopOpts = append(loopOpts, control.WithOnTick(settings.onTick))
	}
	if settings.tick > 0 {
		loopOpts = append(loopOpts, control.WithTick(settings.tick))
	}

	return &Driver{profile: p, loop: control.New(p, loopOpts...)}
}

// Run drives the control loop until ctx is cancelled or the profile
// reaches its iteration limit. It returns *pkg/errors.Error with
// CodeUserCancelled or CodeIterationLimit in those two cases respectively
// (control.Loop.Run's own contract), and any backend error that escapes
// reconciliation otherwise.
func (d *Driver) Run(ctx context.Context) error {
	return d.loop.Run(ctx)
}

// Profile exposes the live profile Run drives, so a host program can read
// Counters()/QueueLen() from goroutines other than the one calling Run —
// mirroring the read access cmd/lavastorm's per-tick metrics/status hooks
// get via WithOnTick.
func (d *Driver) Profile() profile.Profile {
	return d.profile
}

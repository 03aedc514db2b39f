// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package lavastorm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavastorm/lavastorm/internal/backend"
	"github.com/lavastorm/lavastorm/internal/profile"
	"github.com/lavastorm/lavastorm/pkg/config"
	lerrors "github.com/lavastorm/lavastorm/pkg/errors"
	"github.com/lavastorm/lavastorm/pkg/logging"
)

func testConfig() *config.Config {
	cfg := config.NewDefault()
	cfg.MinRuntimeSeconds, cfg.MaxRuntimeSeconds = 1, 1
	cfg.MinNumProcessors, cfg.MaxNumProcessors = 1, 1
	cfg.MinTasksPerJob, cfg.MaxTasksPerJob = 1, 1
	return cfg
}

func TestNew_RejectsInvalidConfigBeforeTouchingBackend(t *testing.T) {
	cfg := testConfig()
	cfg.FailureRate = 250

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, lerrors.Is(err, lerrors.CodeConfig))
}

func TestNew_RejectsUnimplementedBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler = "openlava_cluster_api"

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, lerrors.Is(err, lerrors.CodeConfig))
}

func TestNew_BuildsSubmitBatchProfileWhenSelected(t *testing.T) {
	cfg := testConfig()
	cfg.Profile = config.ProfileSubmitBatch
	cfg.MinPerBatch, cfg.MaxPerBatch = 1, 1

	d, err := New(cfg)
	require.NoError(t, err)
	_, isBatch := d.Profile().(*profile.Batch)
	assert.True(t, isBatch)
}

func TestNew_BuildsSteadyProfileByDefault(t *testing.T) {
	cfg := testConfig()

	d, err := New(cfg)
	require.NoError(t, err)
	_, isSteady := d.Profile().(*profile.Steady)
	assert.True(t, isSteady)
}

func TestDriver_Run_FiresOnTickAndReachesIterationLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Profile = config.ProfileSubmitBatch
	cfg.MinPerBatch, cfg.MaxPerBatch = 1, 1
	cfg.Iterations = 2

	fake := backend.NewFake()
	intervals, err := cfg.Validate()
	require.NoError(t, err)

	var ticks int
	settings := &driverSettings{logger: logging.NoOpLogger{}, onTick: func(profile.Profile) { ticks++ }, tick: time.Millisecond}
	d := newDriver(cfg, fake, intervals, settings)

	err = d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, lerrors.Is(err, lerrors.CodeIterationLimit))
	assert.GreaterOrEqual(t, ticks, 2)
}

func TestWithTickInterval_SetsDriverSettingsTickField(t *testing.T) {
	settings := &driverSettings{logger: logging.NoOpLogger{}}
	WithTickInterval(5 * time.Millisecond)(settings)
	assert.Equal(t, 5*time.Millisecond, settings.tick)
}

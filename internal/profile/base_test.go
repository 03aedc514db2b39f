// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lavastorm/lavastorm/internal/backend"
)

func TestEnqueue_AssignsDistinctCorrelationIDs(t *testing.T) {
	fake := backend.NewFake()
	s := NewSteady(fake, testSampler(), nil, 3)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.CreateJobs(now)

	snap := s.queue.Snapshot()
	assert.Len(t, snap, 3)

	seen := map[string]bool{}
	for _, p := range snap {
		assert.NotEmpty(t, p.Spec.CorrelationID)
		assert.False(t, seen[p.Spec.CorrelationID], "correlation ID reused across submissions")
		seen[p.Spec.CorrelationID] = true
	}
}

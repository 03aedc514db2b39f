// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the driver's profile counters as Prometheus
// gauges and counters, scraped from the /metrics endpoint cmd/lavastorm
// serves on --metrics-addr (a server separate from pkg/status's).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns the Prometheus instruments that mirror a profile's
// Counters snapshot (internal/profile.Counters). It is registered against
// its own prometheus.Registry rather than the global default, so a driver
// process never collides with another library's metric names.
type Collector struct {
	Registry *prometheus.Registry

	mu   sync.Mutex
	last CounterSnapshot

	totalSubmittedJobs prometheus.Counter
	totalTaskCount     prometheus.Counter
	completedTaskCount prometheus.Counter
	failedTaskCount    prometheus.Counter
	killedTaskCount    prometheus.Counter

	pendingTasks   prometheus.Gauge
	runningTasks   prometheus.Gauge
	activeJobs     prometheus.Gauge
	submitQueueLen prometheus.Gauge
}

// NewCollector builds a Collector with a fresh registry and registers every
// instrument on it.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		Registry: reg,
		totalSubmittedJobs: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "lavastorm",
			Name:      "submitted_jobs_total",
			Help:      "Total number of job submissions accepted by the backend.",
		}),
		totalTaskCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "lavastorm",
			Name:      "submitted_tasks_total",
			Help:      "Total number of tasks (array elements included) submitted.",
		}),
		completedTaskCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "lavastorm",
			Name:      "completed_tasks_total",
			Help:      "Total number of tasks observed in a completed terminal state.",
		}),
		failedTaskCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "lavastorm",
			Name:      "failed_tasks_total",
			Help:      "Total number of tasks observed in a failed terminal state.",
		}),
		killedTaskCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "lavastorm",
			Name:      "killed_tasks_total",
			Help:      "Total number of tasks reclassified was_killed ∧ is_failed.",
		}),
		pendingTasks: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "lavastorm",
			Name:      "pending_tasks",
			Help:      "Tasks currently observed pending at the backend.",
		}),
		runningTasks: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "lavastorm",
			Name:      "running_tasks",
			Help:      "Tasks currently observed running at the backend.",
		}),
		activeJobs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "lavastorm",
			Name:      "active_jobs",
			Help:      "Active job count: retained handles plus queued submissions.",
		}),
		submitQueueLen: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "lavastorm",
			Name:      "submit_queue_length",
			Help:      "Pending submissions awaiting their release time.",
		}),
	}
	return c
}

// CounterSnapshot is the subset of internal/profile.Counters the collector
// consumes; declared independently so pkg/metrics never imports
// internal/profile.
type CounterSnapshot struct {
	TotalSubmittedJobs int64
	TotalTaskCount     int64
	CompletedTaskCount int64
	FailedTaskCount    int64
	KilledTaskCount    int64
	PendingTaskCount   int
	RunningTaskCount   int
	TotalActiveJobs    int
	QueueLength        int
}

// Observe updates every instrument from the latest snapshot. The profile's
// monotonic counters only ever grow, so each call advances the Prometheus
// Counters by the delta since the previous Observe; gauges are set
// directly.
func (c *Collector) Observe(cur CounterSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalSubmittedJobs.Add(float64(cur.TotalSubmittedJobs - c.last.TotalSubmittedJobs))
	c.totalTaskCount.Add(float64(cur.TotalTaskCount - c.last.TotalTaskCount))
	c.completedTaskCount.Add(float64(cur.CompletedTaskCount - c.last.CompletedTaskCount))
	c.failedTaskCount.Add(float64(cur.FailedTaskCount - c.last.FailedTaskCount))
	c.killedTaskCount.Add(float64(cur.KilledTaskCount - c.last.KilledTaskCount))

	c.pendingTasks.Set(float64(cur.PendingTaskCount))
	c.runningTasks.Set(float64(cur.RunningTaskCount))
	c.activeJobs.Set(float64(cur.TotalActiveJobs))
	c.submitQueueLen.Set(float64(cur.QueueLength))

	c.last = cur
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lavastorm/lavastorm"
	"github.com/lavastorm/lavastorm/internal/profile"
	"github.com/lavastorm/lavastorm/pkg/config"
	lerrors "github.com/lavastorm/lavastorm/pkg/errors"
	"github.com/lavastorm/lavastorm/pkg/logging"
	"github.com/lavastorm/lavastorm/pkg/metrics"
	"github.com/lavastorm/lavastorm/pkg/status"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd(os.Args[1:]).Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the taxonomy in spec.md §6/§7 onto a process exit code:
// 0 for orderly termination (iteration limit reached, user cancellation),
// 1 for configuration errors and anything else unexpected.
func exitCodeFor(err error) int {
	if lerrors.Is(err, lerrors.CodeIterationLimit) || lerrors.Is(err, lerrors.CodeUserCancelled) {
		return 0
	}
	return 1
}

// newRootCmd builds the CLI from args, which must be the argument vector a
// cobra.Command would otherwise read from os.Args[1:] (tests pass their own
// in place of calling SetArgs, since Resolve's --config pre-scan has to see
// the same args cobra itself will later parse).
func newRootCmd(args []string) *cobra.Command {
	cfg, err := config.Resolve(args)
	if err != nil {
		return errorCmd(args, err)
	}

	root := &cobra.Command{
		Use:          "lavastorm",
		Short:        "Synthetic scheduler workload generator",
		Version:      Version,
		SilenceUsage: true,
	}

	root.PersistentFlags().IntVar(&cfg.FailureRate, "failure_rate", cfg.FailureRate, "percent chance [0-100] a task's emitted command exits non-zero")
	root.PersistentFlags().StringVar(&cfg.OfficeHours, "office_hours", cfg.OfficeHours, "comma-separated HH:MM:SS-HH:MM:SS windows during which jobs are created; empty means always-on")
	root.PersistentFlags().IntVar(&cfg.MinRuntimeSeconds, "min_runtime", cfg.MinRuntimeSeconds, "minimum sampled task runtime in seconds")
	root.PersistentFlags().IntVar(&cfg.MaxRuntimeSeconds, "max_runtime", cfg.MaxRuntimeSeconds, "maximum sampled task runtime in seconds")
	root.PersistentFlags().IntVar(&cfg.MinObservationSeconds, "min_observation_time", cfg.MinObservationSeconds, "minimum delay before a newly created job is released to the backend, in seconds")
	root.PersistentFlags().IntVar(&cfg.MaxObservationSeconds, "max_observation_time", cfg.MaxObservationSeconds, "maximum delay before a newly created job is released to the backend, in seconds")
	root.PersistentFlags().IntVar(&cfg.MinNumProcessors, "min_num_processors", cfg.MinNumProcessors, "minimum sampled requested slot count")
	root.PersistentFlags().IntVar(&cfg.MaxNumProcessors, "max_num_processors", cfg.MaxNumProcessors, "maximum sampled requested slot count")
	root.PersistentFlags().IntVar(&cfg.MinTasksPerJob, "min_tasks_per_job", cfg.MinTasksPerJob, "minimum sampled array size")
	root.PersistentFlags().IntVar(&cfg.MaxTasksPerJob, "max_tasks_per_job", cfg.MaxTasksPerJob, "maximum sampled array size")
	root.PersistentFlags().StringArrayVar(&cfg.Queues, "queue", cfg.Queues, "queue name to sample from (repeatable); empty uses the backend default")
	root.PersistentFlags().StringArrayVar(&cfg.Projects, "project", cfg.Projects, "project name to sample from (repeatable); empty uses the backend default")

	root.PersistentFlags().StringVar(&cfg.Scheduler, "scheduler", cfg.Scheduler, "backend: sge_cli, openlava_cli, openlava_cluster_api, openlava_web, openlava_c_api")
	root.PersistentFlags().StringVar(&cfg.Backend.BsubCommand, "bsub_command", "", "OpenLava bsub binary override")
	root.PersistentFlags().StringVar(&cfg.Backend.BjobsCommand, "bjobs_command", "", "OpenLava bjobs binary override")
	root.PersistentFlags().StringVar(&cfg.Backend.BhistCommand, "bhist_command", "", "OpenLava bhist binary override")
	root.PersistentFlags().StringVar(&cfg.Backend.BkillCommand, "bkill_command", "", "OpenLava bkill binary override")
	root.PersistentFlags().StringVar(&cfg.Backend.QsubCommand, "qsub_command", "", "SGE qsub binary override")
	root.PersistentFlags().StringVar(&cfg.Backend.QstatCommand, "qstat_command", "", "SGE qstat binary override")
	root.PersistentFlags().StringVar(&cfg.Backend.QacctCommand, "qacct_command", "", "SGE qacct binary override")
	root.PersistentFlags().StringVar(&cfg.Backend.QdelCommand, "qdel_command", "", "SGE qdel binary override")
	root.PersistentFlags().StringVar(&cfg.Backend.QsubPEType, "qsub_pe_type", "", "SGE parallel environment name passed to qsub -pe")
	root.PersistentFlags().StringVar(&cfg.Backend.URL, "url", "", "OpenLava-Web REST base URL")
	root.PersistentFlags().StringVar(&cfg.Backend.Username, "username", "", "OpenLava-Web REST username")
	root.PersistentFlags().StringVar(&cfg.Backend.Password, "password", "", "OpenLava-Web REST password")

	root.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "", "path to a YAML file of these same options; flags always override it")
	root.PersistentFlags().StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (e.g. :9090); empty disables it")
	root.PersistentFlags().StringVar(&cfg.StatusAddr, "status-addr", "", "address to serve the live job-lifecycle snapshot/stream on (e.g. :9091); empty disables it")
	root.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	root.PersistentFlags().BoolVar(&cfg.DryRun, "dry-run", false, "sample one tick's worth of job commands and print them without contacting a backend")

	root.AddCommand(newBaseloadCmd(cfg))
	root.AddCommand(newSubmitBatchCmd(cfg))
	root.SetArgs(args)
	return root
}

// errorCmd returns a root command whose execution immediately reports err,
// used when --config/env resolution fails before flags can even be
// registered (so the user still gets a normal cobra-style error and the
// matching exit code rather than a panic). It still binds args via SetArgs
// so cobra doesn't fall back to parsing the host process's own os.Args.
func errorCmd(args []string, err error) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "lavastorm",
		SilenceUsage: true,
		RunE:         func(cmd *cobra.Command, args []string) error { return err },
	}
	cmd.SetArgs(args)
	return cmd
}

func newBaseloadCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseload",
		Short: "Maintain a steady number of active jobs indefinitely",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Profile = config.ProfileBaseload
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&cfg.BaseLoad, "base_load", cfg.BaseLoad, "target number of concurrently active jobs")
	return cmd
}

func newSubmitBatchCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submitbatch",
		Short: "Submit batches of jobs, one batch at a time, for a fixed number of iterations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Profile = config.ProfileSubmitBatch
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&cfg.MinPerBatch, "min_num_jobs_per_batch", cfg.MinPerBatch, "minimum sampled batch size")
	cmd.Flags().IntVar(&cfg.MaxPerBatch, "max_num_jobs_per_batch", cfg.MaxPerBatch, "maximum sampled batch size")
	cmd.Flags().IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "number of batches to submit; 0 means unlimited")
	return cmd
}

// run resolves configuration, builds the driver, and runs it to completion
// or cancellation. cfg already reflects defaults < YAML file < env vars <
// flags: Resolve (called from newRootCmd, before flags were registered)
// applied the first three layers, and cobra's own flag parsing applied the
// last.
func run(ctx context.Context, cfg *config.Config) error {
	if cfg.DryRun {
		intervals, err := cfg.Validate()
		if err != nil {
			return err
		}
		return dryRun(profile.NewSampler(cfg.SamplerConfig(intervals), nil), cfg)
	}

	logger := logging.NewLogger(&logging.Config{
		Level:   parseLevel(cfg.LogLevel),
		Format:  logging.Format(cfg.LogFormat),
		Output:  os.Stdout,
		Version: Version,
	})

	stopMetrics, observeMetrics := maybeServeMetrics(cfg.MetricsAddr, logger)
	defer stopMetrics()
	stopStatus, observeStatus := maybeServeStatus(cfg.StatusAddr, logger)
	defer stopStatus()

	d, err := lavastorm.New(cfg,
		lavastorm.WithLogger(logger),
		lavastorm.WithOnTick(func(p profile.Profile) {
			observeMetrics(p)
			observeStatus(p)
		}),
	)
	if err != nil {
		return err
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return d.Run(runCtx)
}

// dryRun samples and prints one tick's worth of job commands without
// contacting a backend, so office_hours/failure_rate can be sanity-checked
// before a real run.
func dryRun(sampler *profile.Sampler, cfg *config.Config) error {
	n := cfg.BaseLoad
	if cfg.Profile == config.ProfileSubmitBatch {
		n = cfg.MaxPerBatch
	}
	if n <= 0 {
		n = 1
	}
	fmt.Printf("%s profile dry run (%d sampled command(s)):\n",
		cases.Title(language.English).String(string(cfg.Profile)), n)
	for i := 0; i < n; i++ {
		fmt.Printf("slots=%d tasks=%d project=%q queue=%q command=%q\n",
			sampler.NumProcessors(), sampler.NumTasks(), sampler.Project(), sampler.Queue(), sampler.CreateJobCommand())
	}
	return nil
}

// maybeServeMetrics starts a Prometheus /metrics endpoint when addr is set
// and returns (a shutdown func, a per-tick observe func). When addr is
// empty both are no-ops, so the control loop's per-tick hook costs nothing.
func maybeServeMetrics(addr string, logger logging.Logger) (stop func(), observe func(p profile.Profile)) {
	if addr == "" {
		return func() {}, func(profile.Profile) {}
	}

	collector := metrics.NewCollector()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", "error", err)
		}
	}()

	return func() { _ = srv.Close() }, func(p profile.Profile) {
		c := p.Counters()
		collector.Observe(metrics.CounterSnapshot{
			TotalSubmittedJobs: c.TotalSubmittedJobs,
			TotalTaskCount:     c.TotalTaskCount,
			CompletedTaskCount: c.CompletedTaskCount,
			FailedTaskCount:    c.FailedTaskCount,
			KilledTaskCount:    c.KilledTaskCount,
			PendingTaskCount:   c.PendingTaskCount,
			RunningTaskCount:   c.RunningTaskCount,
			TotalActiveJobs:    c.TotalActiveJobs(p.QueueLen()),
			QueueLength:        p.QueueLen(),
		})
	}
}

// maybeServeStatus starts the JSON-snapshot/websocket-stream server when
// addr is set, mirroring maybeServeMetrics's shape.
func maybeServeStatus(addr string, logger logging.Logger) (stop func(), observe func(p profile.Profile)) {
	if addr == "" {
		return func() {}, func(profile.Profile) {}
	}

	s := status.NewServer()
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server exited", "error", err)
		}
	}()

	return func() { _ = srv.Close() }, func(p profile.Profile) {
		c := p.Counters()
		s.PublishSnapshot(status.Snapshot{
			TotalSubmittedJobs: c.TotalSubmittedJobs,
			TotalTaskCount:     c.TotalTaskCount,
			CompletedTaskCount: c.CompletedTaskCount,
			FailedTaskCount:    c.FailedTaskCount,
			KilledTaskCount:    c.KilledTaskCount,
			PendingTaskCount:   c.PendingTaskCount,
			RunningTaskCount:   c.RunningTaskCount,
			QueueLength:        p.QueueLen(),
			ObservedAt:         time.Now(),
		})
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Command runner starts the per-source reconciliation daemon.
//
// For every configured source it periodically snapshots prior state,
// invokes the source's registered collector, reconciles final states,
// records completion events through the idempotent CDC ledger, and
// persists the fetched snapshot — all inside a single commit per run.
// A Redis lock per source keeps concurrent processes from crawling the
// same source twice.
//
// Collector implementations live in their own packages and register
// themselves in the source registry; deployments add them here as
// side-effect imports.
//
// Usage:
//
//	go run ./cmd/runner [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/contentops/lifecycle-platform/internal/collector"
	"github.com/contentops/lifecycle-platform/internal/ledger"
	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/internal/orchestrator"
	"github.com/contentops/lifecycle-platform/internal/schedule"
	"github.com/contentops/lifecycle-platform/internal/store"
	"github.com/contentops/lifecycle-platform/pkg/config"
	apperrors "github.com/contentops/lifecycle-platform/pkg/errors"
	"github.com/contentops/lifecycle-platform/pkg/health"
	"github.com/contentops/lifecycle-platform/pkg/logger"
	"github.com/contentops/lifecycle-platform/pkg/metrics"
	"github.com/contentops/lifecycle-platform/pkg/postgres"
	"github.com/contentops/lifecycle-platform/pkg/redis"
	"github.com/contentops/lifecycle-platform/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting lifecycle runner",
		"sources", len(cfg.Sources),
		"run_interval", cfg.Lifecycle.RunInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	st := store.New(db)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}
	led := ledger.New(db)

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(func(ctx context.Context) error {
		return db.DB.PingContext(ctx)
	}))
	checker.Register("redis", health.PingCheck(rdb.Ping))
	healthShutdown := checker.StartServer(cfg.Health.Port)
	defer healthShutdown(context.Background())

	base := collector.Base{Retry: resilience.RetryConfig{}}
	var orchestrators []*orchestrator.Orchestrator
	for _, src := range cfg.Sources {
		col, err := collector.Lookup(src.Name, base)
		if err != nil {
			slog.Error("source skipped", "source", src.Name, "error", err)
			continue
		}
		mode := lifecycle.Mode(src.Mode)
		if mode == "" {
			mode = lifecycle.ModeVerify
		}
		orchestrators = append(orchestrators, orchestrator.New(
			orchestrator.Config{
				MinFetchRatio:        cfg.Lifecycle.MinFetchRatio,
				RunTimeout:           cfg.Lifecycle.RunTimeout,
				BootstrapMaxFailures: cfg.Lifecycle.BootstrapMaxFailures,
				BootstrapCooldown:    cfg.Lifecycle.BootstrapCooldown,
				ReportHistory:        cfg.Lifecycle.ReportHistoryPerCheck,
				DefaultMode:          mode,
			},
			col, st, led, store.NewSQLPersister(src.Name), st,
		))
	}
	if len(orchestrators) == 0 {
		slog.Error("no runnable sources configured")
		os.Exit(1)
	}

	lockTTL := cfg.Lifecycle.RunTimeout + time.Minute
	sem := semaphore.NewWeighted(int64(cfg.Lifecycle.SourceConcurrency))

	driver := schedule.NewDriver(cfg.Lifecycle.RunInterval)
	driver.Start(ctx, "source-runs", func(ctx context.Context, _ time.Time) {
		g, gctx := errgroup.WithContext(ctx)
		for _, o := range orchestrators {
			o := o
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return nil
				}
				defer sem.Release(1)
				runSource(gctx, o, rdb, m, lockTTL)
				return nil
			})
		}
		g.Wait()
	})

	<-ctx.Done()
	slog.Info("lifecycle runner shutting down")
}

// runSource executes one orchestrator run under the per-source Redis lock
// and records metrics from the run report. Run errors are already logged
// and reported by the orchestrator; process-level retry is the scheduler's
// job on the next tick.
func runSource(ctx context.Context, o *orchestrator.Orchestrator, rdb *redis.Client, m *metrics.Metrics, lockTTL time.Duration) {
	source := o.Source()
	if err := rdb.AcquireLock(ctx, source, lockTTL); err != nil {
		if errors.Is(err, apperrors.ErrRunLocked) {
			slog.Info("run skipped, lock held elsewhere", "source", source)
		} else {
			slog.Error("run lock check failed", "source", source, "error", err)
		}
		return
	}
	defer rdb.ReleaseLock(context.Background(), source)

	start := time.Now()
	ctx = logger.WithRunID(ctx, fmt.Sprintf("%s-%d", source, start.UnixNano()))
	report, _ := o.Run(ctx)
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(source, string(report.Status)).Inc()
	m.RunDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	m.FetchRatio.WithLabelValues(source).Set(report.Report.Health.FetchRatio)
	if report.Report.Health.Degraded {
		m.DegradedRunsTotal.WithLabelValues(source).Inc()
	}
	switch report.Report.CDC.SkipReason {
	case lifecycle.SkipReasonCircuitTripped, lifecycle.SkipReasonCooldownActive:
		m.BootstrapRefusalsTotal.WithLabelValues(source, report.Report.CDC.SkipReason).Inc()
	}
	for resolvedBy, n := range report.Report.CDC.ResolvedByCounts {
		m.CDCEventsInsertedTotal.
			WithLabelValues(string(lifecycle.EventContentCompleted), resolvedBy).
			Add(float64(n))
	}
	if skipped := report.Report.CDC.SkippedCount; skipped > 0 {
		m.CDCEventsSkippedTotal.
			WithLabelValues(string(lifecycle.EventContentCompleted)).
			Add(float64(skipped))
	}
}

// Command sweeper starts the scheduled sweep daemon.
//
// Two independent jobs promote due administrative schedules into CDC
// events without touching any collector: the completion sweep scans
// overrides whose completion date has passed, the publication sweep scans
// publication rows whose public_at has passed. Both insert through the
// idempotent ledger, so re-runs with nothing newly due record nothing.
//
// Usage:
//
//	go run ./cmd/sweeper [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contentops/lifecycle-platform/internal/ledger"
	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/internal/schedule"
	"github.com/contentops/lifecycle-platform/internal/store"
	"github.com/contentops/lifecycle-platform/internal/sweep"
	"github.com/contentops/lifecycle-platform/pkg/config"
	"github.com/contentops/lifecycle-platform/pkg/health"
	"github.com/contentops/lifecycle-platform/pkg/logger"
	"github.com/contentops/lifecycle-platform/pkg/metrics"
	"github.com/contentops/lifecycle-platform/pkg/postgres"
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
	slog.Info("starting lifecycle sweeper", "interval", cfg.Lifecycle.SweepInterval)

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
	sweeper := sweep.New(st, led, st)

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
	healthShutdown := checker.StartServer(cfg.Health.Port)
	defer healthShutdown(context.Background())

	record := func(job string, report lifecycle.RunReport) {
		if m == nil {
			return
		}
		eventType := lifecycle.EventContentCompleted
		if job == sweep.PublicationJob {
			eventType = lifecycle.EventContentPublished
		}
		m.SweepEventsTotal.WithLabelValues(job).Add(float64(report.Report.CDC.InsertedCount))
		for resolvedBy, n := range report.Report.CDC.ResolvedByCounts {
			m.CDCEventsInsertedTotal.WithLabelValues(string(eventType), resolvedBy).Add(float64(n))
		}
		if skipped := report.Report.CDC.SkippedCount; skipped > 0 {
			m.CDCEventsSkippedTotal.WithLabelValues(string(eventType)).Add(float64(skipped))
		}
	}

	runJob := func(job string, run func(ctx context.Context) (lifecycle.RunReport, error)) func(ctx context.Context, _ time.Time) {
		return func(ctx context.Context, _ time.Time) {
			var report lifecycle.RunReport
			err := resilience.WithTimeout(ctx, cfg.Lifecycle.RunTimeout, job, func(ctx context.Context) error {
				var err error
				report, err = run(ctx)
				return err
			})
			if err != nil {
				return
			}
			record(job, report)
		}
	}

	completionDriver := schedule.NewDriver(cfg.Lifecycle.SweepInterval)
	completionDriver.Start(ctx, sweep.CompletionJob, runJob(sweep.CompletionJob, sweeper.RunCompletionSweep))

	publicationDriver := schedule.NewDriver(cfg.Lifecycle.SweepInterval)
	publicationDriver.Start(ctx, sweep.PublicationJob, runJob(sweep.PublicationJob, sweeper.RunPublicationSweep))

	<-ctx.Done()
	slog.Info("lifecycle sweeper shutting down")
}

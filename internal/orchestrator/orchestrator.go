// Package orchestrator drives one reconciliation run per source:
// SNAPSHOT -> COLLECT -> RECONCILE -> EMIT (gated) -> PERSIST -> COMMIT,
// with a single rollback on any failure after SNAPSHOT. It owns all
// transaction boundaries; nothing else commits.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/contentops/lifecycle-platform/internal/collector"
	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/internal/store"
)

// Datastore provides the read-only prior-state snapshot and the run's
// single write transaction.
type Datastore interface {
	SourceSnapshot(ctx context.Context, source string) (*lifecycle.SourceSnapshot, error)
	Begin(ctx context.Context) (store.Tx, error)
}

// EventLedger records lifecycle events idempotently inside the run's write
// transaction.
type EventLedger interface {
	Insert(ctx context.Context, tx store.Tx, ev lifecycle.CDCEvent) (bool, error)
}

// Persister upserts the normalized snapshot for its source. It is the only
// writer of content rows and must never commit or roll back.
type Persister interface {
	Synchronize(ctx context.Context, tx store.Tx, snapshot map[string]lifecycle.NormalizedItem, buckets lifecycle.BucketAssignment) (int, error)
}

// ReportStore reads and writes run reports. Recent history feeds the
// bootstrap circuit breaker.
type ReportStore interface {
	RecentReports(ctx context.Context, crawlerName string, limit int) ([]lifecycle.RunReport, error)
	SaveReport(ctx context.Context, report lifecycle.RunReport) error
}

// Config holds the immutable per-run settings. It is passed into the
// constructor; there is no package-level mutable state.
type Config struct {
	MinFetchRatio        float64
	RunTimeout           time.Duration
	BootstrapMaxFailures int
	BootstrapCooldown    time.Duration
	ReportHistory        int
	DefaultMode          lifecycle.Mode
}

// Orchestrator reconciles one source. Instances are independent; runs for
// different sources share no mutable state.
type Orchestrator struct {
	cfg       Config
	collector collector.Collector
	db        Datastore
	ledger    EventLedger
	persister Persister
	reports   ReportStore
	policy    *lifecycle.BootstrapPolicy
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Orchestrator for one source.
func New(cfg Config, col collector.Collector, db Datastore, ledger EventLedger, persister Persister, reports ReportStore) *Orchestrator {
	if cfg.ReportHistory <= 0 {
		cfg.ReportHistory = 20
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = lifecycle.ModeVerify
	}
	return &Orchestrator{
		cfg:       cfg,
		collector: col,
		db:        db,
		ledger:    ledger,
		persister: persister,
		reports:   reports,
		policy:    lifecycle.NewBootstrapPolicy(cfg.BootstrapMaxFailures, cfg.BootstrapCooldown),
		logger:    slog.Default().With("component", "orchestrator", "source", col.Name()),
		now:       time.Now,
	}
}

// Source returns the name of the source this orchestrator reconciles.
func (o *Orchestrator) Source() string {
	return o.collector.Name()
}

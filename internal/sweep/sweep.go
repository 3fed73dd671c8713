// Package sweep implements the time-triggered promotion of scheduled
// overrides and publications into CDC events. Sweeps never invoke a
// collector: they scan the store for rows whose due timestamp has passed,
// resolve final state with the same resolver the orchestrator uses, and
// record events through the same idempotent ledger insert, so re-running a
// sweep with no newly-due rows inserts nothing.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/internal/store"
)

// Job names used as the crawler_name of sweep run reports.
const (
	CompletionJob  = "completion-sweep"
	PublicationJob = "publication-sweep"
)

// Datastore provides the sweep's transaction and due-row scans.
type Datastore interface {
	Begin(ctx context.Context) (store.Tx, error)
	DueOverrides(ctx context.Context, tx store.Tx, now time.Time) ([]store.DueOverride, error)
	DuePublications(ctx context.Context, tx store.Tx, now time.Time) ([]store.DuePublication, error)
}

// EventLedger records lifecycle events idempotently inside the sweep's
// transaction.
type EventLedger interface {
	Insert(ctx context.Context, tx store.Tx, ev lifecycle.CDCEvent) (bool, error)
}

// ReportStore persists sweep run reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report lifecycle.RunReport) error
}

// Sweeper runs the two stateless sweep jobs. Each job opens one
// transaction and commits once.
type Sweeper struct {
	db      Datastore
	ledger  EventLedger
	reports ReportStore
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Sweeper.
func New(db Datastore, ledger EventLedger, reports ReportStore) *Sweeper {
	return &Sweeper{
		db:      db,
		ledger:  ledger,
		reports: reports,
		logger:  slog.Default().With("component", "sweeper"),
		now:     time.Now,
	}
}

// RunCompletionSweep promotes overrides whose scheduled completion has
// passed into CONTENT_COMPLETED events.
func (s *Sweeper) RunCompletionSweep(ctx context.Context) (lifecycle.RunReport, error) {
	return s.run(ctx, CompletionJob, func(ctx context.Context, tx store.Tx, now time.Time) ([]lifecycle.CDCEvent, error) {
		due, err := s.db.DueOverrides(ctx, tx, now)
		if err != nil {
			return nil, err
		}
		var events []lifecycle.CDCEvent
		for _, d := range due {
			ov := d.Override
			final := lifecycle.Resolve(d.RawStatus, &ov, now)
			if final.Status != lifecycle.StatusCompleted {
				continue
			}
			events = append(events, lifecycle.CDCEvent{
				ContentID:        ov.ContentID,
				Source:           ov.Source,
				EventType:        lifecycle.EventContentCompleted,
				FinalStatus:      final.Status,
				FinalCompletedAt: final.CompletedAt,
				ResolvedBy:       final.ResolvedBy,
				CreatedAt:        now,
			})
		}
		return events, nil
	})
}

// RunPublicationSweep promotes publication rows whose public_at has passed
// into CONTENT_PUBLISHED events. A scheduled publication is an
// administrative act, so the event carries override provenance.
func (s *Sweeper) RunPublicationSweep(ctx context.Context) (lifecycle.RunReport, error) {
	return s.run(ctx, PublicationJob, func(ctx context.Context, tx store.Tx, now time.Time) ([]lifecycle.CDCEvent, error) {
		due, err := s.db.DuePublications(ctx, tx, now)
		if err != nil {
			return nil, err
		}
		var events []lifecycle.CDCEvent
		for _, d := range due {
			final := lifecycle.Resolve(d.RawStatus, d.Override, now)
			events = append(events, lifecycle.CDCEvent{
				ContentID:        d.Publication.ContentID,
				Source:           d.Publication.Source,
				EventType:        lifecycle.EventContentPublished,
				FinalStatus:      final.Status,
				FinalCompletedAt: d.Publication.PublicAt,
				ResolvedBy:       lifecycle.ResolvedByOverride,
				CreatedAt:        now,
			})
		}
		return events, nil
	})
}

func (s *Sweeper) run(ctx context.Context, job string, scan func(ctx context.Context, tx store.Tx, now time.Time) ([]lifecycle.CDCEvent, error)) (lifecycle.RunReport, error) {
	start := s.now()
	now := start

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return s.fail(ctx, job, start, fmt.Errorf("begin: %w", err))
	}

	events, err := scan(ctx, tx, now)
	if err != nil {
		tx.Rollback()
		return s.fail(ctx, job, start, fmt.Errorf("scanning due rows: %w", err))
	}

	cdc := lifecycle.CDCSummary{Mode: lifecycle.CDCModeEmit, ResolvedByCounts: map[string]int{}}
	for _, ev := range events {
		inserted, err := s.ledger.Insert(ctx, tx, ev)
		if err != nil {
			tx.Rollback()
			return s.fail(ctx, job, start, fmt.Errorf("recording event: %w", err))
		}
		if inserted {
			cdc.InsertedCount++
			cdc.ResolvedByCounts[string(ev.ResolvedBy)]++
		} else {
			cdc.SkippedCount++
		}
	}

	if err := tx.Commit(); err != nil {
		return s.fail(ctx, job, start, fmt.Errorf("commit: %w", err))
	}

	report := lifecycle.RunReport{
		CrawlerName: job,
		Status:      lifecycle.RunOK,
		Report: lifecycle.ReportData{
			DurationMS: s.now().Sub(start).Milliseconds(),
			CDC:        cdc,
		},
		CreatedAt: s.now(),
	}
	if err := s.reports.SaveReport(ctx, report); err != nil {
		s.logger.Error("saving sweep report failed", "job", job, "error", err)
	}
	s.logger.Info("sweep finished",
		"job", job,
		"due_rows", len(events),
		"events_inserted", cdc.InsertedCount,
	)
	return report, nil
}

func (s *Sweeper) fail(ctx context.Context, job string, start time.Time, runErr error) (lifecycle.RunReport, error) {
	report := lifecycle.RunReport{
		CrawlerName: job,
		Status:      lifecycle.RunFail,
		Report: lifecycle.ReportData{
			DurationMS: s.now().Sub(start).Milliseconds(),
			CDC:        lifecycle.CDCSummary{Mode: lifecycle.CDCModeSkip},
			Health:     lifecycle.HealthSummary{Errors: []string{runErr.Error()}, ErrorCount: 1},
		},
		CreatedAt: s.now(),
	}
	if err := s.reports.SaveReport(ctx, report); err != nil {
		s.logger.Error("saving sweep fail report failed", "job", job, "error", err)
	}
	s.logger.Error("sweep failed", "job", job, "error", runErr)
	return report, runErr
}

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/pkg/logger"
)

// Run executes one reconciliation run and always writes a run report:
// ok, warn (persisted but no events emitted), or fail (nothing committed).
// The returned error is non-nil only in the fail case.
func (o *Orchestrator) Run(ctx context.Context) (lifecycle.RunReport, error) {
	start := o.now()
	source := o.collector.Name()
	mode := o.cfg.DefaultMode
	log := logger.FromContext(ctx).With("component", "orchestrator", "source", source)

	// SNAPSHOT: read-only transaction, fully closed before COLLECT starts.
	snap, err := o.db.SourceSnapshot(ctx, source)
	if err != nil {
		return o.fail(ctx, source, mode, start, fmt.Errorf("snapshot: %w", err))
	}
	now := o.now()
	prior := make(map[string]lifecycle.FinalState, len(snap.Statuses))
	for id, raw := range snap.Statuses {
		prior[id] = lifecycle.Resolve(raw, snap.Overrides[id], now)
	}

	// A verify pass never populates an empty store; escalate to bootstrap
	// if the circuit allows it.
	if snap.RowCount == 0 && mode == lifecycle.ModeVerify {
		history, err := o.reports.RecentReports(ctx, source, o.cfg.ReportHistory)
		if err != nil {
			return o.fail(ctx, source, mode, start, fmt.Errorf("reading run history: %w", err))
		}
		decision := o.policy.Decide(history, now)
		if !decision.Proceed {
			log.Warn("bootstrap refused", "reason", decision.SkipReason)
			return o.skip(ctx, source, start, decision.SkipReason)
		}
		mode = lifecycle.ModeBootstrap
	}

	// COLLECT: no transaction held; the wall-clock budget bounds the fetch.
	// Exceeding it yields a partial result that still flows through the
	// remaining steps.
	collectCtx := ctx
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		collectCtx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}
	result, fetchErr := o.collector.Fetch(collectCtx, mode)
	if fetchErr != nil {
		result.Meta.Errors = append(result.Meta.Errors, fmt.Sprintf("fetch: %v", fetchErr))
	}
	if result.Snapshot == nil {
		result.Snapshot = map[string]lifecycle.NormalizedItem{}
	}

	// RECONCILE: items known before but absent today keep their prior
	// final status. A partial fetch must never look like mass completion
	// or mass hiatus.
	raw := make(map[string]lifecycle.Status, len(prior)+len(result.Snapshot))
	for id, item := range result.Snapshot {
		raw[id] = item.Status
	}
	for id, p := range prior {
		if _, present := raw[id]; !present {
			raw[id] = p.Status
		}
	}
	current := make(map[string]lifecycle.FinalState, len(raw))
	for id, st := range raw {
		current[id] = lifecycle.Resolve(st, snap.Overrides[id], now)
	}

	// Stage a completion event for every transition into COMPLETED.
	var staged []lifecycle.CDCEvent
	var newlyCompleted []string
	for id, cur := range current {
		if cur.Status != lifecycle.StatusCompleted {
			continue
		}
		if p, known := prior[id]; known && p.Status == lifecycle.StatusCompleted {
			continue
		}
		staged = append(staged, lifecycle.CDCEvent{
			ContentID:        id,
			Source:           source,
			EventType:        lifecycle.EventContentCompleted,
			FinalStatus:      cur.Status,
			FinalCompletedAt: cur.CompletedAt,
			ResolvedBy:       cur.ResolvedBy,
			CreatedAt:        now,
		})
		newlyCompleted = append(newlyCompleted, id)
	}

	health := lifecycle.EvaluateFetchHealth(
		lifecycle.FetchHealthConfig{MinRatio: o.cfg.MinFetchRatio},
		result.Meta,
		snap.RowCount,
	)

	// EMIT + PERSIST share the run's single write transaction, so an event
	// and its underlying row update land in the same commit or neither
	// does.
	tx, err := o.db.Begin(ctx)
	if err != nil {
		return o.fail(ctx, source, mode, start, fmt.Errorf("begin: %w", err))
	}

	cdc := lifecycle.CDCSummary{Mode: lifecycle.CDCModeEmit}
	if health.Degraded {
		// A degraded run still persists what it fetched, but a partial
		// fetch cannot be trusted to distinguish "really completed" from
		// "missing because the fetch broke".
		log.Warn("run degraded, suppressing event emission",
			"skip_reason", health.SkipReason,
			"fetch_ratio", health.FetchRatio,
			"errors", len(result.Meta.Errors),
		)
		cdc.Mode = lifecycle.CDCModeSkip
		cdc.SkipReason = health.SkipReason
		staged = nil
		newlyCompleted = nil
	} else {
		cdc.ResolvedByCounts = map[string]int{}
		for _, ev := range staged {
			inserted, err := o.ledger.Insert(ctx, tx, ev)
			if err != nil {
				tx.Rollback()
				return o.fail(ctx, source, mode, start, fmt.Errorf("emit: %w", err))
			}
			if inserted {
				cdc.InsertedCount++
				cdc.ResolvedByCounts[string(ev.ResolvedBy)]++
			} else {
				cdc.SkippedCount++
			}
		}
	}

	newCount, err := o.persister.Synchronize(ctx, tx, result.Snapshot, result.Buckets)
	if err != nil {
		tx.Rollback()
		return o.fail(ctx, source, mode, start, fmt.Errorf("persist: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return o.fail(ctx, source, mode, start, fmt.Errorf("commit: %w", err))
	}

	status := lifecycle.RunOK
	if health.Degraded {
		status = lifecycle.RunWarn
	}
	report := lifecycle.RunReport{
		CrawlerName: source,
		Status:      status,
		Report: lifecycle.ReportData{
			DurationMS:     o.now().Sub(start).Milliseconds(),
			Mode:           string(mode),
			NewCount:       newCount,
			NewlyCompleted: newlyCompleted,
			CDC:            cdc,
			Health: lifecycle.HealthSummary{
				ErrorCount:    len(result.Meta.Errors),
				FetchedCount:  result.Meta.FetchedCount,
				ExpectedCount: lifecycle.ExpectedCount(result.Meta, snap.RowCount),
				FetchRatio:    health.FetchRatio,
				Degraded:      health.Degraded,
				Errors:        result.Meta.Errors,
			},
		},
		CreatedAt: o.now(),
	}
	if err := o.reports.SaveReport(ctx, report); err != nil {
		log.Error("saving run report failed", "error", err)
	}
	log.Info("run finished",
		"status", status,
		"mode", mode,
		"fetched", result.Meta.FetchedCount,
		"new", newCount,
		"events_inserted", cdc.InsertedCount,
	)
	return report, nil
}

// skip records a run that was refused before collection (circuit open or
// cooldown). The report is deliberately not bootstrap-labeled: no attempt
// was made, so it must not count toward the failure streak.
func (o *Orchestrator) skip(ctx context.Context, source string, start time.Time, reason string) (lifecycle.RunReport, error) {
	report := lifecycle.RunReport{
		CrawlerName: source,
		Status:      lifecycle.RunWarn,
		Report: lifecycle.ReportData{
			DurationMS: o.now().Sub(start).Milliseconds(),
			Mode:       string(lifecycle.ModeVerify),
			CDC:        lifecycle.CDCSummary{Mode: lifecycle.CDCModeSkip, SkipReason: reason},
		},
		CreatedAt: o.now(),
	}
	if err := o.reports.SaveReport(ctx, report); err != nil {
		o.logger.Error("saving skip report failed", "error", err)
	}
	return report, nil
}

// fail records a failed run and propagates the error. Nothing from this
// run was committed.
func (o *Orchestrator) fail(ctx context.Context, source string, mode lifecycle.Mode, start time.Time, runErr error) (lifecycle.RunReport, error) {
	report := lifecycle.RunReport{
		CrawlerName: source,
		Status:      lifecycle.RunFail,
		Report: lifecycle.ReportData{
			DurationMS: o.now().Sub(start).Milliseconds(),
			Mode:       string(mode),
			CDC:        lifecycle.CDCSummary{Mode: lifecycle.CDCModeSkip},
			Health:     lifecycle.HealthSummary{Errors: []string{runErr.Error()}, ErrorCount: 1},
		},
		CreatedAt: o.now(),
	}
	if err := o.reports.SaveReport(ctx, report); err != nil {
		o.logger.Error("saving fail report failed", "error", err)
	}
	o.logger.Error("run failed", "error", runErr)
	return report, runErr
}

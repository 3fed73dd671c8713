package lifecycle

import "time"

// Resolve merges an item's raw crawl status with its override (if any) into
// the authoritative final state.
//
// An override whose status is not COMPLETED wins immediately. An override
// scheduling completion at T stays invisible until now reaches T; this is
// the only place time enters the resolution. Resolve is pure and is shared
// by the run orchestrator and the scheduled sweeps.
func Resolve(raw Status, ov *Override, now time.Time) FinalState {
	if ov == nil {
		return FinalState{Status: raw, ResolvedBy: ResolvedByCrawler}
	}
	if ov.OverrideStatus != StatusCompleted {
		return FinalState{Status: ov.OverrideStatus, ResolvedBy: ResolvedByOverride}
	}
	if ov.OverrideCompletedAt == nil {
		return FinalState{Status: StatusCompleted, ResolvedBy: ResolvedByOverride}
	}
	if now.Before(*ov.OverrideCompletedAt) {
		// Scheduled completion not yet due.
		return FinalState{Status: raw, ResolvedBy: ResolvedByCrawler}
	}
	due := *ov.OverrideCompletedAt
	return FinalState{Status: StatusCompleted, CompletedAt: &due, ResolvedBy: ResolvedByOverride}
}

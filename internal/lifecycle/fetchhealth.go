package lifecycle

// Skip reasons recorded when a degraded run suppresses event emission.
const (
	SkipReasonCollectorErrors = "collector_errors"
	SkipReasonLowFetchRatio   = "low_fetch_ratio"
	SkipReasonSuspiciousEmpty = "suspicious_empty"
)

// DefaultMinFetchRatio is the fetched/expected ratio below which a run is
// considered degraded.
const DefaultMinFetchRatio = 0.70

// FetchHealthConfig controls the degraded-run classification.
type FetchHealthConfig struct {
	MinRatio float64
}

// FetchHealth classifies one collector run. A degraded run still persists
// whatever was fetched but must not emit CDC events, because a partial
// fetch cannot distinguish "really completed" from "missing because the
// fetch broke".
type FetchHealth struct {
	FetchRatio float64
	Degraded   bool
	SkipReason string
}

// ExpectedCount is the denominator of the fetch ratio: the collector's
// hint when it supplies one, otherwise the persisted row count, floored at
// 1 so an empty store never divides by zero. Run reports record this same
// value so the stored ratio and count stay consistent.
func ExpectedCount(meta RunMeta, priorRowCount int) int {
	expected := meta.ExpectedCountHint
	if expected <= 0 {
		expected = priorRowCount
	}
	if expected < 1 {
		expected = 1
	}
	return expected
}

// EvaluateFetchHealth classifies a just-completed collector run from its
// reported counts and errors. priorRowCount is the persisted row count for
// the source and is used as the expected-count denominator when the
// collector supplies no better estimate.
func EvaluateFetchHealth(cfg FetchHealthConfig, meta RunMeta, priorRowCount int) FetchHealth {
	minRatio := cfg.MinRatio
	if minRatio <= 0 {
		minRatio = DefaultMinFetchRatio
	}

	ratio := float64(meta.FetchedCount) / float64(ExpectedCount(meta, priorRowCount))

	h := FetchHealth{FetchRatio: ratio}
	switch {
	case len(meta.Errors) > 0:
		h.Degraded = true
		h.SkipReason = SkipReasonCollectorErrors
	case meta.SuspiciousEmpty || meta.FetchedCount == 0:
		// Zero fetched with zero errors usually means a silent upstream
		// schema change, not a real empty catalog.
		h.Degraded = true
		h.SkipReason = SkipReasonSuspiciousEmpty
	case ratio < minRatio:
		h.Degraded = true
		h.SkipReason = SkipReasonLowFetchRatio
	}
	return h
}

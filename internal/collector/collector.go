// Package collector defines the contract between the reconciliation core
// and the per-source data collectors. Collectors live outside this module;
// the core only depends on the fixed result shape defined here.
package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/pkg/resilience"
)

// FetchResult is the one fixed result type every collector returns. The
// shape is deliberately rigid: ambiguity is rejected at the interface
// boundary instead of branching on it downstream.
type FetchResult struct {
	Snapshot map[string]lifecycle.NormalizedItem
	Buckets  lifecycle.BucketAssignment
	Meta     lifecycle.RunMeta
}

// Collector fetches a normalized snapshot for one source. Fetch must not
// return an error for partial or per-item failures; those are aggregated
// into Meta.Errors so the run can degrade gracefully instead of aborting.
// A returned error means the fetch as a whole produced nothing usable.
type Collector interface {
	Name() string
	Fetch(ctx context.Context, mode lifecycle.Mode) (FetchResult, error)
}

// Base carries the shared retry policy injected into collector
// implementations, replacing per-source backoff code.
type Base struct {
	Retry resilience.RetryConfig
}

// Do runs one sub-fetch under the shared retry policy.
func (b Base) Do(ctx context.Context, name string, fn func() error) error {
	return resilience.Retry(ctx, name, b.Retry, fn)
}

// AppendError folds a per-item failure into the run metadata.
func AppendError(meta *lifecycle.RunMeta, format string, args ...any) {
	meta.Errors = append(meta.Errors, fmt.Sprintf(format, args...))
}

// BucketsFromSnapshot derives the status buckets from a snapshot, with IDs
// sorted for stable output.
func BucketsFromSnapshot(snapshot map[string]lifecycle.NormalizedItem) lifecycle.BucketAssignment {
	var b lifecycle.BucketAssignment
	for id, item := range snapshot {
		switch item.Status {
		case lifecycle.StatusHiatus:
			b.Hiatus = append(b.Hiatus, id)
		case lifecycle.StatusCompleted:
			b.Completed = append(b.Completed, id)
		default:
			b.Ongoing = append(b.Ongoing, id)
		}
	}
	sort.Strings(b.Ongoing)
	sort.Strings(b.Hiatus)
	sort.Strings(b.Completed)
	return b
}

package collector

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/pkg/resilience"
)

type staticCollector struct {
	name string
}

func (c *staticCollector) Name() string { return c.name }

func (c *staticCollector) Fetch(ctx context.Context, mode lifecycle.Mode) (FetchResult, error) {
	return FetchResult{}, nil
}

func TestRegistryLookup(t *testing.T) {
	Register("registry-test", func(base Base) Collector {
		return &staticCollector{name: "registry-test"}
	})

	col, err := Lookup("registry-test", Base{})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if col.Name() != "registry-test" {
		t.Errorf("name = %q", col.Name())
	}

	if _, err := Lookup("never-registered", Base{}); err == nil {
		t.Error("unknown source must fail lookup")
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration must panic")
		}
	}()
	Register("dup-test", func(base Base) Collector { return &staticCollector{} })
	Register("dup-test", func(base Base) Collector { return &staticCollector{} })
}

func TestBucketsFromSnapshot(t *testing.T) {
	snapshot := map[string]lifecycle.NormalizedItem{
		"c": {Status: lifecycle.StatusOngoing},
		"a": {Status: lifecycle.StatusOngoing},
		"b": {Status: lifecycle.StatusCompleted},
		"d": {Status: lifecycle.StatusHiatus},
	}
	got := BucketsFromSnapshot(snapshot)
	want := lifecycle.BucketAssignment{
		Ongoing:   []string{"a", "c"},
		Hiatus:    []string{"d"},
		Completed: []string{"b"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buckets = %+v, want %+v", got, want)
	}
}

func TestBaseDoRetriesTransientFailures(t *testing.T) {
	b := Base{Retry: resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}}
	calls := 0
	err := b.Do(context.Background(), "fetch-page", func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky upstream")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestAppendError(t *testing.T) {
	var meta lifecycle.RunMeta
	AppendError(&meta, "page %d failed: %s", 3, "timeout")
	if len(meta.Errors) != 1 || meta.Errors[0] != "page 3 failed: timeout" {
		t.Errorf("errors = %v", meta.Errors)
	}
}

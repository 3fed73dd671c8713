package store

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/pkg/config"
	"github.com/contentops/lifecycle-platform/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *Store {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "lifecycle_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "lifecycle"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// testSource returns a source name unique to this test run and registers
// cleanup of every row it leaves behind.
func testSource(t *testing.T, s *Store, name string) string {
	t.Helper()
	source := name + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	t.Cleanup(func() {
		ctx := context.Background()
		s.client.DB.ExecContext(ctx, `DELETE FROM cdc_event_consumptions WHERE event_id IN (SELECT id FROM cdc_events WHERE source = $1)`, source)
		s.client.DB.ExecContext(ctx, `DELETE FROM cdc_events WHERE source = $1`, source)
		s.client.DB.ExecContext(ctx, `DELETE FROM publication_metadata WHERE source = $1`, source)
		s.client.DB.ExecContext(ctx, `DELETE FROM content_overrides WHERE source = $1`, source)
		s.client.DB.ExecContext(ctx, `DELETE FROM contents WHERE source = $1`, source)
		s.client.DB.ExecContext(ctx, `DELETE FROM run_reports WHERE crawler_name = $1`, source)
	})
	return source
}

func TestSourceSnapshotReadsStatusesAndOverrides(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	source := testSource(t, s, "snap")

	mustExec(t, s, `INSERT INTO contents (content_id, source, status) VALUES ('a', $1, 'ONGOING')`, source)
	mustExec(t, s, `INSERT INTO contents (content_id, source, status) VALUES ('b', $1, 'COMPLETED')`, source)
	mustExec(t, s, `INSERT INTO contents (content_id, source, status, deleted) VALUES ('gone', $1, 'ONGOING', TRUE)`, source)
	mustExec(t, s, `INSERT INTO content_overrides (content_id, source, override_status) VALUES ('a', $1, 'COMPLETED')`, source)

	snap, err := s.SourceSnapshot(ctx, source)
	if err != nil {
		t.Fatalf("source snapshot: %v", err)
	}
	if snap.RowCount != 2 {
		t.Errorf("row count = %d, want 2 (deleted rows excluded)", snap.RowCount)
	}
	if snap.Statuses["a"] != lifecycle.StatusOngoing || snap.Statuses["b"] != lifecycle.StatusCompleted {
		t.Errorf("statuses = %v", snap.Statuses)
	}
	if _, ok := snap.Statuses["gone"]; ok {
		t.Error("deleted row must not appear in the snapshot")
	}
	ov := snap.Overrides["a"]
	if ov == nil || ov.OverrideStatus != lifecycle.StatusCompleted {
		t.Errorf("override for a = %+v", ov)
	}
}

func TestSQLPersisterCountsOnlyNewRows(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	source := testSource(t, s, "persist")
	p := NewSQLPersister(source)

	snapshot := map[string]lifecycle.NormalizedItem{
		"x": {ContentID: "x", Title: "First", Status: lifecycle.StatusOngoing},
		"y": {ContentID: "y", Title: "Second", Status: lifecycle.StatusCompleted},
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	n, err := p.Synchronize(ctx, tx, snapshot, lifecycle.BucketAssignment{})
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n != 2 {
		t.Errorf("new rows = %d, want 2", n)
	}

	// Second pass updates in place: one changed title, one new item.
	snapshot["x"] = lifecycle.NormalizedItem{ContentID: "x", Title: "First (renamed)", Status: lifecycle.StatusOngoing}
	snapshot["z"] = lifecycle.NormalizedItem{ContentID: "z", Title: "Third", Status: lifecycle.StatusOngoing}

	tx, err = s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	n, err = p.Synchronize(ctx, tx, snapshot, lifecycle.BucketAssignment{})
	if err != nil {
		t.Fatalf("second synchronize: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n != 1 {
		t.Errorf("new rows on rerun = %d, want 1", n)
	}

	rec, err := s.GetContent(ctx, "x", source)
	if err != nil {
		t.Fatalf("reading back row: %v", err)
	}
	if rec == nil || rec.Title != "First (renamed)" {
		t.Errorf("record = %+v, want updated title", rec)
	}
	if rec.Deleted {
		t.Error("upserted row must not be soft-deleted")
	}

	missing, err := s.GetContent(ctx, "nope", source)
	if err != nil {
		t.Fatalf("missing lookup: %v", err)
	}
	if missing != nil {
		t.Errorf("missing row = %+v, want nil", missing)
	}
}

func TestDueOverridesReturnsOnlyElapsedSchedules(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	source := testSource(t, s, "due-ov")
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	mustExec(t, s, `INSERT INTO contents (content_id, source, status) VALUES ('due', $1, 'ONGOING')`, source)
	mustExec(t, s, `INSERT INTO content_overrides (content_id, source, override_status, override_completed_at) VALUES ('due', $1, 'COMPLETED', $2)`, source, past)
	mustExec(t, s, `INSERT INTO content_overrides (content_id, source, override_status, override_completed_at) VALUES ('later', $1, 'COMPLETED', $2)`, source, future)
	mustExec(t, s, `INSERT INTO content_overrides (content_id, source, override_status) VALUES ('immediate', $1, 'HIATUS')`, source)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	due, err := s.DueOverrides(ctx, tx, now)
	if err != nil {
		t.Fatalf("due overrides: %v", err)
	}
	found := map[string]DueOverride{}
	for _, d := range due {
		if d.Override.Source == source {
			found[d.Override.ContentID] = d
		}
	}
	if len(found) != 1 {
		t.Fatalf("due overrides for source = %v, want only 'due'", found)
	}
	d := found["due"]
	if d.RawStatus != lifecycle.StatusOngoing {
		t.Errorf("raw status = %s, want ONGOING from joined content row", d.RawStatus)
	}
	if d.Override.OverrideCompletedAt == nil || !d.Override.OverrideCompletedAt.Equal(past) {
		t.Errorf("override completed at = %v, want %v", d.Override.OverrideCompletedAt, past)
	}
}

func TestDuePublicationsJoinsStatusAndOverride(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	source := testSource(t, s, "due-pub")
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	mustExec(t, s, `INSERT INTO publication_metadata (content_id, source, public_at) VALUES ('p1', $1, $2)`, source, past)
	mustExec(t, s, `INSERT INTO publication_metadata (content_id, source, public_at) VALUES ('p2', $1, $2)`, source, now.Add(time.Hour))

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	due, err := s.DuePublications(ctx, tx, now)
	if err != nil {
		t.Fatalf("due publications: %v", err)
	}
	var hits []DuePublication
	for _, d := range due {
		if d.Publication.Source == source {
			hits = append(hits, d)
		}
	}
	if len(hits) != 1 || hits[0].Publication.ContentID != "p1" {
		t.Fatalf("due publications for source = %+v, want only p1", hits)
	}
	// No content row exists for p1: raw status falls back to ONGOING.
	if hits[0].RawStatus != lifecycle.StatusOngoing {
		t.Errorf("raw status = %s, want ONGOING fallback", hits[0].RawStatus)
	}
}

func TestRunReportsRoundTripNewestFirst(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	source := testSource(t, s, "reports")

	for i, status := range []lifecycle.RunStatus{lifecycle.RunFail, lifecycle.RunOK} {
		report := lifecycle.RunReport{
			CrawlerName: source,
			Status:      status,
			Report: lifecycle.ReportData{
				Mode:     string(lifecycle.ModeBootstrap),
				NewCount: i,
				CDC:      lifecycle.CDCSummary{Mode: lifecycle.CDCModeEmit, InsertedCount: i},
			},
		}
		if err := s.SaveReport(ctx, report); err != nil {
			t.Fatalf("save report: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	reports, err := s.RecentReports(ctx, source, 10)
	if err != nil {
		t.Fatalf("recent reports: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if reports[0].Status != lifecycle.RunOK || reports[1].Status != lifecycle.RunFail {
		t.Errorf("order = [%s, %s], want newest first", reports[0].Status, reports[1].Status)
	}
	if !reports[0].IsBootstrap() {
		t.Error("report mode must survive the JSONB round trip")
	}
	if reports[0].Report.CDC.InsertedCount != 1 {
		t.Errorf("cdc inserted count = %d, want 1", reports[0].Report.CDC.InsertedCount)
	}
}

func mustExec(t *testing.T, s *Store, query string, args ...any) {
	t.Helper()
	if _, err := s.client.DB.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

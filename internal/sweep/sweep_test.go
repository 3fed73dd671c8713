package sweep

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/internal/store"
)

func eventKey(ev lifecycle.CDCEvent) string {
	return ev.ContentID + "|" + ev.Source + "|" + string(ev.EventType)
}

type fakeTx struct {
	ledger     *fakeLedger
	events     []lifecycle.CDCEvent
	committed  bool
	rolledBack bool
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (t *fakeTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}
func (t *fakeTx) Commit() error {
	for _, ev := range t.events {
		t.ledger.rows[eventKey(ev)] = ev
	}
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback() error {
	t.rolledBack = true
	return nil
}

type fakeLedger struct {
	rows map[string]lifecycle.CDCEvent
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[string]lifecycle.CDCEvent{}}
}

func (l *fakeLedger) Insert(ctx context.Context, tx store.Tx, ev lifecycle.CDCEvent) (bool, error) {
	ftx := tx.(*fakeTx)
	if _, ok := l.rows[eventKey(ev)]; ok {
		return false, nil
	}
	for _, staged := range ftx.events {
		if eventKey(staged) == eventKey(ev) {
			return false, nil
		}
	}
	ftx.events = append(ftx.events, ev)
	return true, nil
}

type fakeDB struct {
	led          *fakeLedger
	overrides    []store.DueOverride
	publications []store.DuePublication
}

func (d *fakeDB) Begin(ctx context.Context) (store.Tx, error) {
	return &fakeTx{ledger: d.led}, nil
}

func (d *fakeDB) DueOverrides(ctx context.Context, tx store.Tx, now time.Time) ([]store.DueOverride, error) {
	return d.overrides, nil
}

func (d *fakeDB) DuePublications(ctx context.Context, tx store.Tx, now time.Time) ([]store.DuePublication, error) {
	return d.publications, nil
}

type fakeReports struct {
	saved []lifecycle.RunReport
}

func (r *fakeReports) SaveReport(ctx context.Context, report lifecycle.RunReport) error {
	r.saved = append(r.saved, report)
	return nil
}

func dueOverride(contentID string, due time.Time) store.DueOverride {
	return store.DueOverride{
		Override: lifecycle.Override{
			ContentID:           contentID,
			Source:              "webtoon-alpha",
			OverrideStatus:      lifecycle.StatusCompleted,
			OverrideCompletedAt: &due,
		},
		RawStatus: lifecycle.StatusOngoing,
	}
}

func TestCompletionSweepPromotesDueOverrides(t *testing.T) {
	now := time.Now()
	led := newFakeLedger()
	db := &fakeDB{
		led: led,
		overrides: []store.DueOverride{
			dueOverride("a", now.Add(-time.Hour)),
			dueOverride("b", now.Add(-2*time.Hour)),
		},
	}
	sweeper := New(db, led, &fakeReports{})

	report, err := sweeper.RunCompletionSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Report.CDC.InsertedCount != 2 {
		t.Errorf("inserted_count = %d, want 2", report.Report.CDC.InsertedCount)
	}
	ev, ok := led.rows["a|webtoon-alpha|CONTENT_COMPLETED"]
	if !ok {
		t.Fatal("event for a not recorded")
	}
	if ev.ResolvedBy != lifecycle.ResolvedByOverride {
		t.Errorf("resolved_by = %s, want override", ev.ResolvedBy)
	}
	if ev.FinalCompletedAt == nil {
		t.Error("scheduled completion must carry the due timestamp")
	}
}

func TestCompletionSweepRerunInsertsNothing(t *testing.T) {
	now := time.Now()
	led := newFakeLedger()
	db := &fakeDB{
		led:       led,
		overrides: []store.DueOverride{dueOverride("a", now.Add(-time.Hour))},
	}
	sweeper := New(db, led, &fakeReports{})

	first, err := sweeper.RunCompletionSweep(context.Background())
	if err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	if first.Report.CDC.InsertedCount != 1 {
		t.Fatalf("first sweep inserted %d, want 1", first.Report.CDC.InsertedCount)
	}

	second, err := sweeper.RunCompletionSweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if second.Report.CDC.InsertedCount != 0 {
		t.Errorf("second sweep inserted %d, want 0", second.Report.CDC.InsertedCount)
	}
	if len(led.rows) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(led.rows))
	}
}

func TestPublicationSweepEmitsPublishedEvents(t *testing.T) {
	now := time.Now()
	publicAt := now.Add(-30 * time.Minute)
	led := newFakeLedger()
	db := &fakeDB{
		led: led,
		publications: []store.DuePublication{{
			Publication: lifecycle.PublicationMetadata{
				ContentID: "x",
				Source:    "ott-gamma",
				PublicAt:  &publicAt,
			},
			RawStatus: lifecycle.StatusOngoing,
		}},
	}
	sweeper := New(db, led, &fakeReports{})

	report, err := sweeper.RunPublicationSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Report.CDC.InsertedCount != 1 {
		t.Errorf("inserted_count = %d, want 1", report.Report.CDC.InsertedCount)
	}
	ev, ok := led.rows["x|ott-gamma|CONTENT_PUBLISHED"]
	if !ok {
		t.Fatal("published event not recorded")
	}
	if ev.EventType != lifecycle.EventContentPublished {
		t.Errorf("event_type = %s, want CONTENT_PUBLISHED", ev.EventType)
	}
	if ev.FinalCompletedAt == nil || !ev.FinalCompletedAt.Equal(publicAt) {
		t.Errorf("final_completed_at = %v, want %v", ev.FinalCompletedAt, publicAt)
	}
}

func TestSweepsShareTheLedgerKeySpaceWithRuns(t *testing.T) {
	// A completion already recorded by an orchestrator run must not be
	// recorded again when the override's date passes.
	now := time.Now()
	led := newFakeLedger()
	led.rows["a|webtoon-alpha|CONTENT_COMPLETED"] = lifecycle.CDCEvent{
		ContentID: "a", Source: "webtoon-alpha", EventType: lifecycle.EventContentCompleted,
	}
	db := &fakeDB{
		led:       led,
		overrides: []store.DueOverride{dueOverride("a", now.Add(-time.Hour))},
	}
	sweeper := New(db, led, &fakeReports{})

	report, err := sweeper.RunCompletionSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if report.Report.CDC.InsertedCount != 0 {
		t.Errorf("inserted_count = %d, want 0", report.Report.CDC.InsertedCount)
	}
}

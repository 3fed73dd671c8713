// Package store is the PostgreSQL persistence layer for content records,
// overrides, publication metadata, and run reports. All SQL for those
// tables lives here; the core packages see only domain types and the Tx
// accessor interface.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/pkg/logger"
	"github.com/contentops/lifecycle-platform/pkg/postgres"
)

// Tx is the transaction handle passed through the core. It is satisfied by
// *sql.Tx; the core never sees storage row types, only this surface.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

// Store reads and writes the lifecycle tables.
type Store struct {
	client *postgres.Client
	logger *slog.Logger
}

// New creates a Store on top of an open postgres client.
func New(client *postgres.Client) *Store {
	return &Store{
		client: client,
		logger: logger.WithComponent("store"),
	}
}

// Begin starts the single write transaction of a run. The caller owns
// commit and rollback.
func (s *Store) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.client.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning write transaction: %w", err)
	}
	return tx, nil
}

// SourceSnapshot reads the prior state of one source: raw statuses of all
// non-deleted rows, active overrides, and the persisted row count. The
// read-only transaction is closed before SourceSnapshot returns, so no
// locks are held while the collector runs.
func (s *Store) SourceSnapshot(ctx context.Context, source string) (*lifecycle.SourceSnapshot, error) {
	snap := &lifecycle.SourceSnapshot{
		Statuses:  make(map[string]lifecycle.Status),
		Overrides: make(map[string]*lifecycle.Override),
	}
	err := s.client.InReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT content_id, status FROM contents WHERE source = $1 AND NOT deleted`,
			source,
		)
		if err != nil {
			return fmt.Errorf("querying content statuses: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var status lifecycle.Status
			if err := rows.Scan(&id, &status); err != nil {
				return fmt.Errorf("scanning content row: %w", err)
			}
			snap.Statuses[id] = status
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating content rows: %w", err)
		}
		snap.RowCount = len(snap.Statuses)

		ovRows, err := tx.QueryContext(ctx,
			`SELECT content_id, override_status, override_completed_at, reason, admin_id
			   FROM content_overrides WHERE source = $1`,
			source,
		)
		if err != nil {
			return fmt.Errorf("querying overrides: %w", err)
		}
		defer ovRows.Close()
		for ovRows.Next() {
			ov := &lifecycle.Override{Source: source}
			var completedAt sql.NullTime
			if err := ovRows.Scan(&ov.ContentID, &ov.OverrideStatus, &completedAt, &ov.Reason, &ov.AdminID); err != nil {
				return fmt.Errorf("scanning override row: %w", err)
			}
			if completedAt.Valid {
				t := completedAt.Time
				ov.OverrideCompletedAt = &t
			}
			snap.Overrides[ov.ContentID] = ov
		}
		if err := ovRows.Err(); err != nil {
			return fmt.Errorf("iterating override rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// GetContent reads one content row. Returns (nil, nil) when no row exists
// for the key.
func (s *Store) GetContent(ctx context.Context, contentID, source string) (*lifecycle.ContentRecord, error) {
	rec := &lifecycle.ContentRecord{ContentID: contentID, Source: source}
	var attrs []byte
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT title, attributes, status, deleted, updated_at
		   FROM contents WHERE content_id = $1 AND source = $2`,
		contentID, source,
	).Scan(&rec.Title, &attrs, &rec.Status, &rec.Deleted, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading content %s/%s: %w", source, contentID, err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshaling attributes for %s/%s: %w", source, contentID, err)
		}
	}
	return rec, nil
}

// DueOverride is an override whose scheduled completion has passed, joined
// with the item's current raw status.
type DueOverride struct {
	Override  lifecycle.Override
	RawStatus lifecycle.Status
}

// DueOverrides returns all overrides with a scheduled completion timestamp
// at or before now, across sources.
func (s *Store) DueOverrides(ctx context.Context, tx Tx, now time.Time) ([]DueOverride, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT o.content_id, o.source, o.override_status, o.override_completed_at,
		        o.reason, o.admin_id, COALESCE(c.status, $2)
		   FROM content_overrides o
		   LEFT JOIN contents c ON c.content_id = o.content_id AND c.source = o.source
		  WHERE o.override_completed_at IS NOT NULL AND o.override_completed_at <= $1`,
		now, lifecycle.StatusOngoing,
	)
	if err != nil {
		return nil, fmt.Errorf("querying due overrides: %w", err)
	}
	defer rows.Close()

	var due []DueOverride
	for rows.Next() {
		var d DueOverride
		var completedAt sql.NullTime
		if err := rows.Scan(
			&d.Override.ContentID, &d.Override.Source, &d.Override.OverrideStatus,
			&completedAt, &d.Override.Reason, &d.Override.AdminID, &d.RawStatus,
		); err != nil {
			return nil, fmt.Errorf("scanning due override: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			d.Override.OverrideCompletedAt = &t
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due overrides: %w", err)
	}
	return due, nil
}

// DuePublication is a publication row whose public_at has passed, joined
// with the item's raw status and override for final-state resolution.
type DuePublication struct {
	Publication lifecycle.PublicationMetadata
	RawStatus   lifecycle.Status
	Override    *lifecycle.Override
}

// DuePublications returns all publication rows with public_at at or before
// now, across sources.
func (s *Store) DuePublications(ctx context.Context, tx Tx, now time.Time) ([]DuePublication, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT p.content_id, p.source, p.public_at, COALESCE(c.status, $2),
		        o.override_status, o.override_completed_at
		   FROM publication_metadata p
		   LEFT JOIN contents c ON c.content_id = p.content_id AND c.source = p.source
		   LEFT JOIN content_overrides o ON o.content_id = p.content_id AND o.source = p.source
		  WHERE p.public_at IS NOT NULL AND p.public_at <= $1`,
		now, lifecycle.StatusOngoing,
	)
	if err != nil {
		return nil, fmt.Errorf("querying due publications: %w", err)
	}
	defer rows.Close()

	var due []DuePublication
	for rows.Next() {
		var d DuePublication
		var publicAt, ovCompletedAt sql.NullTime
		var ovStatus sql.NullString
		if err := rows.Scan(
			&d.Publication.ContentID, &d.Publication.Source, &publicAt,
			&d.RawStatus, &ovStatus, &ovCompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning due publication: %w", err)
		}
		if publicAt.Valid {
			t := publicAt.Time
			d.Publication.PublicAt = &t
		}
		if ovStatus.Valid {
			ov := &lifecycle.Override{
				ContentID:      d.Publication.ContentID,
				Source:         d.Publication.Source,
				OverrideStatus: lifecycle.Status(ovStatus.String),
			}
			if ovCompletedAt.Valid {
				t := ovCompletedAt.Time
				ov.OverrideCompletedAt = &t
			}
			d.Override = ov
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due publications: %w", err)
	}
	return due, nil
}

// RecentReports returns the newest run reports for one crawler, most recent
// first. The bootstrap policy consumes this history.
func (s *Store) RecentReports(ctx context.Context, crawlerName string, limit int) ([]lifecycle.RunReport, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT id, crawler_name, status, report_data, created_at
		   FROM run_reports
		  WHERE crawler_name = $1
		  ORDER BY created_at DESC
		  LIMIT $2`,
		crawlerName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying run reports: %w", err)
	}
	defer rows.Close()

	var reports []lifecycle.RunReport
	for rows.Next() {
		var r lifecycle.RunReport
		var data []byte
		if err := rows.Scan(&r.ID, &r.CrawlerName, &r.Status, &data, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning run report: %w", err)
		}
		if err := json.Unmarshal(data, &r.Report); err != nil {
			return nil, fmt.Errorf("unmarshaling report data: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run reports: %w", err)
	}
	return reports, nil
}

// SaveReport persists a run report. Reports are written outside the run's
// write transaction so a failed run still leaves its fail report behind.
func (s *Store) SaveReport(ctx context.Context, report lifecycle.RunReport) error {
	data, err := json.Marshal(report.Report)
	if err != nil {
		return fmt.Errorf("marshaling report data: %w", err)
	}
	_, err = s.client.DB.ExecContext(ctx,
		`INSERT INTO run_reports (crawler_name, status, report_data, created_at)
		 VALUES ($1, $2, $3, $4)`,
		report.CrawlerName, report.Status, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving run report: %w", err)
	}
	s.logger.Info("run report saved",
		"crawler", report.CrawlerName,
		"status", report.Status,
		"inserted_events", report.Report.CDC.InsertedCount,
	)
	return nil
}

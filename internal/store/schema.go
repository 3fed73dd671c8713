package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied at startup by EnsureSchema. The cdc_events unique
// constraint carries the once-ever guarantee: at most one row per
// (content_id, source, event_type), with inserts conflict-skipping.
const schema = `
CREATE TABLE IF NOT EXISTS contents (
    content_id  TEXT NOT NULL,
    source      TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    attributes  JSONB NOT NULL DEFAULT '{}',
    status      TEXT NOT NULL,
    deleted     BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (content_id, source)
);

CREATE TABLE IF NOT EXISTS content_overrides (
    content_id            TEXT NOT NULL,
    source                TEXT NOT NULL,
    override_status       TEXT NOT NULL,
    override_completed_at TIMESTAMPTZ,
    reason                TEXT NOT NULL DEFAULT '',
    admin_id              TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (content_id, source)
);

CREATE TABLE IF NOT EXISTS publication_metadata (
    content_id TEXT NOT NULL,
    source     TEXT NOT NULL,
    public_at  TIMESTAMPTZ,
    PRIMARY KEY (content_id, source)
);

CREATE TABLE IF NOT EXISTS cdc_events (
    id                 BIGSERIAL PRIMARY KEY,
    content_id         TEXT NOT NULL,
    source             TEXT NOT NULL,
    event_type         TEXT NOT NULL,
    final_status       TEXT NOT NULL,
    final_completed_at TIMESTAMPTZ,
    resolved_by        TEXT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (content_id, source, event_type)
);

CREATE TABLE IF NOT EXISTS cdc_event_consumptions (
    consumer_name TEXT NOT NULL,
    event_id      BIGINT NOT NULL REFERENCES cdc_events(id),
    status        TEXT NOT NULL,
    reason        TEXT NOT NULL DEFAULT '',
    consumed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (consumer_name, event_id)
);

CREATE TABLE IF NOT EXISTS run_reports (
    id           BIGSERIAL PRIMARY KEY,
    crawler_name TEXT NOT NULL,
    status       TEXT NOT NULL,
    report_data  JSONB NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_run_reports_crawler
    ON run_reports (crawler_name, created_at DESC);
`

// EnsureSchema creates all tables and indexes if they do not exist yet.
// The whole batch runs in one transaction so a partial application rolls
// back.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		return nil
	})
}

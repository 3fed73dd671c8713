package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
)

// SQLPersister is the default persister: it upserts the normalized snapshot
// into the contents table for a single source. Sources with bespoke
// persistence needs supply their own implementation of the orchestrator's
// Persister interface; this one covers the common case.
//
// It only touches rows of its own source and never commits or rolls back
// the transaction it is handed.
type SQLPersister struct {
	source string
}

// NewSQLPersister creates a persister bound to one source.
func NewSQLPersister(source string) *SQLPersister {
	return &SQLPersister{source: source}
}

// Synchronize upserts every snapshot item and returns the number of rows
// that did not exist before.
func (p *SQLPersister) Synchronize(ctx context.Context, tx Tx, snapshot map[string]lifecycle.NormalizedItem, buckets lifecycle.BucketAssignment) (int, error) {
	if len(snapshot) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	existing, err := p.existingIDs(ctx, tx, ids)
	if err != nil {
		return 0, err
	}

	inserted := 0
	now := time.Now().UTC()
	for id, item := range snapshot {
		attrs, err := json.Marshal(item.Attributes)
		if err != nil {
			return inserted, fmt.Errorf("marshaling attributes for %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contents (content_id, source, title, attributes, status, deleted, updated_at)
			 VALUES ($1, $2, $3, $4, $5, FALSE, $6)
			 ON CONFLICT (content_id, source) DO UPDATE
			 SET title      = EXCLUDED.title,
			     attributes = EXCLUDED.attributes,
			     status     = EXCLUDED.status,
			     updated_at = EXCLUDED.updated_at`,
			id, p.source, item.Title, attrs, item.Status, now,
		)
		if err != nil {
			return inserted, fmt.Errorf("upserting content %s: %w", id, err)
		}
		if !existing[id] {
			inserted++
		}
	}
	return inserted, nil
}

func (p *SQLPersister) existingIDs(ctx context.Context, tx Tx, ids []string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT content_id FROM contents WHERE source = $1 AND content_id = ANY($2)`,
		p.source, pq.StringArray(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("querying existing ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning existing id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating existing ids: %w", err)
	}
	return existing, nil
}

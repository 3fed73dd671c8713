// Package ledger is the append-only CDC event store. Event inserts are
// idempotent: the unique key (content_id, source, event_type) makes a
// duplicate insert a no-op rather than an error, so a transition is
// recorded at most once ever. A separate per-consumer consumption ledger
// with the same conflict-skip semantics lets downstream workers process
// events idempotently.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/internal/store"
	"github.com/contentops/lifecycle-platform/pkg/logger"
	"github.com/contentops/lifecycle-platform/pkg/postgres"
)

// Ledger records lifecycle events and their downstream consumption.
type Ledger struct {
	client *postgres.Client
	logger *slog.Logger
}

// New creates a Ledger on top of an open postgres client.
func New(client *postgres.Client) *Ledger {
	return &Ledger{
		client: client,
		logger: logger.WithComponent("cdc-ledger"),
	}
}

// Insert records one lifecycle event inside the caller's transaction. It
// returns true when the row was newly written and false when an event for
// the same (content_id, source, event_type) already existed. The false
// case is not an error: once an item has completed or published, later
// revert/re-complete cycles record nothing new.
func (l *Ledger) Insert(ctx context.Context, tx store.Tx, ev lifecycle.CDCEvent) (bool, error) {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO cdc_events
		     (content_id, source, event_type, final_status, final_completed_at, resolved_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (content_id, source, event_type) DO NOTHING`,
		ev.ContentID, ev.Source, ev.EventType, ev.FinalStatus, ev.FinalCompletedAt, ev.ResolvedBy, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting cdc event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading insert result: %w", err)
	}
	return affected == 1, nil
}

// MarkConsumed records that a named consumer processed an event. Returns
// false when the consumption was already recorded.
func (l *Ledger) MarkConsumed(ctx context.Context, c lifecycle.EventConsumption) (bool, error) {
	consumedAt := c.ConsumedAt
	if consumedAt.IsZero() {
		consumedAt = time.Now().UTC()
	}
	res, err := l.client.DB.ExecContext(ctx,
		`INSERT INTO cdc_event_consumptions (consumer_name, event_id, status, reason, consumed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (consumer_name, event_id) DO NOTHING`,
		c.ConsumerName, c.EventID, c.Status, c.Reason, consumedAt,
	)
	if err != nil {
		return false, fmt.Errorf("marking event %d consumed by %s: %w", c.EventID, c.ConsumerName, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading consumption result: %w", err)
	}
	return affected == 1, nil
}

// Unconsumed returns the oldest events that the named consumer has not yet
// processed. The relay polls this to bridge events downstream.
func (l *Ledger) Unconsumed(ctx context.Context, consumer string, limit int) ([]lifecycle.CDCEvent, error) {
	rows, err := l.client.DB.QueryContext(ctx,
		`SELECT e.id, e.content_id, e.source, e.event_type, e.final_status,
		        e.final_completed_at, e.resolved_by, e.created_at
		   FROM cdc_events e
		   LEFT JOIN cdc_event_consumptions c
		     ON c.event_id = e.id AND c.consumer_name = $1
		  WHERE c.event_id IS NULL
		  ORDER BY e.id
		  LIMIT $2`,
		consumer, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unconsumed events: %w", err)
	}
	defer rows.Close()

	var events []lifecycle.CDCEvent
	for rows.Next() {
		var ev lifecycle.CDCEvent
		var completedAt sql.NullTime
		if err := rows.Scan(
			&ev.ID, &ev.ContentID, &ev.Source, &ev.EventType, &ev.FinalStatus,
			&completedAt, &ev.ResolvedBy, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning cdc event: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			ev.FinalCompletedAt = &t
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cdc events: %w", err)
	}
	return events, nil
}

// Package relay bridges recorded CDC events to Kafka. It polls the
// consumption ledger for events the "kafka-relay" consumer has not yet
// processed, publishes them, and marks them consumed. Delivery is
// at-least-once; the consumption ledger keeps re-publishing idempotent for
// downstream workers.
package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/contentops/lifecycle-platform/internal/lifecycle"
	"github.com/contentops/lifecycle-platform/pkg/kafka"
)

// ConsumerName is the relay's identity in the consumption ledger.
const ConsumerName = "kafka-relay"

// EventSource feeds the relay from the CDC ledger.
type EventSource interface {
	Unconsumed(ctx context.Context, consumer string, limit int) ([]lifecycle.CDCEvent, error)
	MarkConsumed(ctx context.Context, c lifecycle.EventConsumption) (bool, error)
}

// Publisher is the downstream sink, satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Relay drains unconsumed CDC events to the publisher in batches.
type Relay struct {
	source    EventSource
	publisher Publisher
	batchSize int
	logger    *slog.Logger
}

// New creates a Relay.
func New(source EventSource, publisher Publisher, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "cdc-relay"),
	}
}

// RunOnce publishes up to one batch of unconsumed events. A publish
// failure stops the batch and leaves the remaining events for the next
// poll; an event is marked consumed only after its publish succeeded.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.source.Unconsumed(ctx, ConsumerName, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("reading unconsumed events: %w", err)
	}
	published := 0
	for _, ev := range events {
		msg := kafka.Event{
			Key:   ev.Source + ":" + ev.ContentID,
			Value: ev,
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			return published, fmt.Errorf("publishing event %d: %w", ev.ID, err)
		}
		consumption := lifecycle.EventConsumption{
			ConsumerName: ConsumerName,
			EventID:      ev.ID,
			Status:       "published",
		}
		if _, err := r.source.MarkConsumed(ctx, consumption); err != nil {
			// The event will be re-published next poll; downstream must
			// dedupe on event id, which the ledger key guarantees.
			return published, fmt.Errorf("marking event %d consumed: %w", ev.ID, err)
		}
		published++
	}
	if published > 0 {
		r.logger.Info("events relayed", "count", published)
	}
	return published, nil
}

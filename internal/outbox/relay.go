// Package outbox drains persisted settlement events to a publisher. Delivery
// is at-least-once; consumers deduplicate on event id.
package outbox

import (
	"context"
	"time"

	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/outboxstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
)

// Publisher delivers one outbox event to its destination.
type Publisher interface {
	Publish(ctx context.Context, record outboxstore.EventRecord) error
}

// LogPublisher writes events to the log. Default destination until a broker
// integration is configured.
type LogPublisher struct {
	logger observability.Logger
}

// NewLogPublisher constructs a logging publisher.
func NewLogPublisher(logger observability.Logger) *LogPublisher {
	if logger == nil {
		logger = observability.Log()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, record outboxstore.EventRecord) error {
	p.logger.Info("settlement event published",
		observability.F("event_id", record.ID),
		observability.F("event_type", record.EventType),
		observability.F("aggregate_id", record.AggregateID))
	return nil
}

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 64
)

// Relay periodically drains pending outbox events.
type Relay struct {
	store     outboxstore.Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    observability.Logger
}

// NewRelay constructs a relay. Zero interval and batch size use defaults.
func NewRelay(store outboxstore.Store, publisher Publisher, interval time.Duration, batchSize int, logger observability.Logger) *Relay {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = observability.Log()
	}
	if publisher == nil {
		publisher = NewLogPublisher(logger)
	}
	return &Relay{store: store, publisher: publisher, interval: interval, batchSize: batchSize, logger: logger}
}

// Run drains the outbox until ctx is canceled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.DrainOnce(ctx)
		}
	}
}

// DrainOnce publishes one batch of pending events. Failed deliveries are
// recorded and retried on a later pass via available_at.
func (r *Relay) DrainOnce(ctx context.Context) {
	records, err := r.store.ListPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("list pending outbox events", observability.F("error", err))
		return
	}
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		if err := r.publisher.Publish(ctx, record); err != nil {
			r.logger.Error("publish outbox event",
				observability.F("event_id", record.ID),
				observability.F("error", err))
			if markErr := r.store.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
				r.logger.Error("mark outbox event failed",
					observability.F("event_id", record.ID),
					observability.F("error", markErr))
			}
			continue
		}
		if err := r.store.MarkDelivered(ctx, record.ID); err != nil {
			r.logger.Error("mark outbox event delivered",
				observability.F("event_id", record.ID),
				observability.F("error", err))
		}
	}
}

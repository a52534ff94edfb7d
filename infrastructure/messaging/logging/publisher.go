package logging

import (
	"context"

	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/domain/events"
)

// Publisher writes events to the log instead of a bus. Used when no event
// bus is configured.
type Publisher struct {
	logger *zap.Logger
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a log-only publisher
func NewPublisher(logger *zap.Logger) *Publisher {
	return &Publisher{logger: logger}
}

// Publish logs a single event
func (p *Publisher) Publish(_ context.Context, event events.DomainEvent) error {
	p.logger.Info("Domain event",
		zap.String("event_type", event.GetEventType()),
		zap.String("aggregate_id", event.GetAggregateID()),
		zap.Int("version", event.GetVersion()),
		zap.Time("timestamp", event.GetTimestamp()),
	)
	return nil
}

// PublishBatch logs every event
func (p *Publisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	for _, e := range domainEvents {
		_ = p.Publish(ctx, e)
	}
	return nil
}

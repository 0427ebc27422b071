package port

import (
	"context"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

type SettlementPublisher interface {
	Publish(ctx context.Context, event domain.SettlementEvent) error
}

// Delivery is one received settlement event. Exactly one of Ack or Nack
// should be called; Nack asks the broker to deliver the event again.
type Delivery interface {
	Event() domain.SettlementEvent

	// Context carries the trace context the event was published with
	Context() context.Context

	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// SettlementSubscriber yields deliveries until ctx is done or Close is
// called, at which point the returned channel is closed.
type SettlementSubscriber interface {
	Subscribe(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

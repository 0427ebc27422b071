package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/port"
)

// MemoryChannel is an in-process settlement channel backed by a buffered
// Go channel. Events do not survive a restart; the reconciler covers them.
type MemoryChannel struct {
	queue     chan domain.SettlementEvent
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryChannel(queueSize int) *MemoryChannel {
	return &MemoryChannel{
		queue: make(chan domain.SettlementEvent, queueSize),
		done:  make(chan struct{}),
	}
}

// Publish never blocks: a full queue is reported as a publish failure so the
// caller can apply its retry policy.
func (c *MemoryChannel) Publish(ctx context.Context, event domain.SettlementEvent) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: channel closed", domain.ErrPublish)
	default:
	}

	select {
	case c.queue <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrPublish, ctx.Err())
	default:
		return fmt.Errorf("%w: queue full", domain.ErrPublish)
	}
}

func (c *MemoryChannel) Subscribe(ctx context.Context) (<-chan port.Delivery, error) {
	out := make(chan port.Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case event := <-c.queue:
				d := &memoryDelivery{event: event, ctx: ctx, channel: c}
				select {
				case out <- d:
				case <-ctx.Done():
					d.requeue()
					return
				case <-c.done:
					return
				}
			}
		}
	}()

	return out, nil
}

// Len returns the number of events waiting for a consumer.
func (c *MemoryChannel) Len() int {
	return len(c.queue)
}

func (c *MemoryChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

type memoryDelivery struct {
	event   domain.SettlementEvent
	ctx     context.Context
	channel *MemoryChannel
}

func (d *memoryDelivery) Event() domain.SettlementEvent { return d.event }
func (d *memoryDelivery) Context() context.Context      { return d.ctx }
func (d *memoryDelivery) Ack(ctx context.Context) error { return nil }

func (d *memoryDelivery) Nack(ctx context.Context) error {
	d.requeue()
	return nil
}

// requeue puts the event back without blocking the caller, which may be the
// only consumer of a full queue.
func (d *memoryDelivery) requeue() {
	select {
	case d.channel.queue <- d.event:
		return
	default:
	}
	go func() {
		select {
		case d.channel.queue <- d.event:
		case <-d.channel.done:
		}
	}()
}

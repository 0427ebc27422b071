package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/port"
)

func testEvent(token string) domain.SettlementEvent {
	return domain.SettlementEvent{
		Token:      token,
		ItemID:     "item-1",
		UserID:     "user-1",
		PromoID:    "promo-1",
		Amount:     1,
		Price:      decimal.RequireFromString("9.99"),
		OccurredAt: time.Date(2026, 11, 11, 0, 0, 0, 0, time.UTC),
	}
}

func receive(t *testing.T, ch <-chan port.Delivery) port.Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestMemoryChannel_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewMemoryChannel(10)
	defer c.Close()

	require.NoError(t, c.Publish(ctx, testEvent("t1")))

	deliveries, err := c.Subscribe(ctx)
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, "t1", d.Event().Token)
	assert.NotNil(t, d.Context())
	assert.NoError(t, d.Ack(ctx))
}

func TestMemoryChannel_QueueFull(t *testing.T) {
	c := NewMemoryChannel(1)
	defer c.Close()

	require.NoError(t, c.Publish(context.Background(), testEvent("t1")))
	err := c.Publish(context.Background(), testEvent("t2"))
	assert.ErrorIs(t, err, domain.ErrPublish)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryChannel_NackRedelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewMemoryChannel(10)
	defer c.Close()

	deliveries, err := c.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Publish(ctx, testEvent("t1")))

	first := receive(t, deliveries)
	require.NoError(t, first.Nack(ctx))

	second := receive(t, deliveries)
	assert.Equal(t, "t1", second.Event().Token)
}

func TestMemoryChannel_CloseEndsSubscription(t *testing.T) {
	c := NewMemoryChannel(10)
	deliveries, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Close())

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}

	err = c.Publish(context.Background(), testEvent("late"))
	assert.ErrorIs(t, err, domain.ErrPublish)
}

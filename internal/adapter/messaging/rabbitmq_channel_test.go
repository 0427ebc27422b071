package messaging

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRabbit(t *testing.T) *RabbitMQChannel {
	t.Helper()
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skipf("RabbitMQ not available: RABBITMQ_URL is not set")
	}

	queue := "settlement-test-" + uuid.NewString()
	c, err := NewRabbitMQChannel(url, queue, 1, zap.NewNop())
	if err != nil {
		t.Skipf("RabbitMQ not available: %v", err)
	}
	t.Cleanup(func() {
		if ch, err := c.conn.Channel(); err == nil {
			ch.QueueDelete(queue, false, false, false)
			ch.Close()
		}
		c.Close()
	})
	return c
}

func TestRabbitMQ_AckRemovesMessage(t *testing.T) {
	c := newTestRabbit(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Publish(ctx, testEvent("r-1")))
	require.NoError(t, c.Publish(ctx, testEvent("r-2")))

	deliveries, err := c.Subscribe(ctx)
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, "r-1", d.Event().Token)
	require.NoError(t, d.Ack(ctx))

	d = receive(t, deliveries)
	assert.Equal(t, "r-2", d.Event().Token)
	assert.False(t, d.(*rabbitDelivery).msg.Redelivered)
	require.NoError(t, d.Ack(ctx))

	select {
	case extra := <-deliveries:
		t.Fatalf("acked message came back: %s", extra.Event().Token)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRabbitMQ_NackRedelivers(t *testing.T) {
	c := newTestRabbit(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Publish(ctx, testEvent("r-retry")))

	deliveries, err := c.Subscribe(ctx)
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, "r-retry", d.Event().Token)
	require.NoError(t, d.Nack(ctx))

	again := receive(t, deliveries)
	assert.Equal(t, "r-retry", again.Event().Token)
	assert.True(t, again.(*rabbitDelivery).msg.Redelivered)
	require.NoError(t, again.Ack(ctx))
}

func TestRabbitMQ_DropsUndecodableMessage(t *testing.T) {
	c := newTestRabbit(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	confirm, err := c.pub.PublishWithDeferredConfirmWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType: contentType,
		Body:        []byte("not json"),
	})
	require.NoError(t, err)
	acked, err := confirm.WaitContext(ctx)
	require.NoError(t, err)
	require.True(t, acked)
	require.NoError(t, c.Publish(ctx, testEvent("r-good")))

	deliveries, err := c.Subscribe(ctx)
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, "r-good", d.Event().Token)
	require.NoError(t, d.Ack(ctx))

	// the poison message is rejected without requeue
	select {
	case extra := <-deliveries:
		t.Fatalf("unexpected delivery: %s", extra.Event().Token)
	case <-time.After(300 * time.Millisecond):
	}
}

package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/port"
)

// amqpHeaderCarrier adapts an amqp header table to the otel propagator.
type amqpHeaderCarrier amqp.Table

func (c amqpHeaderCarrier) Get(key string) string {
	v, ok := c[key].(string)
	if !ok {
		return ""
	}
	return v
}

func (c amqpHeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c amqpHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// RabbitMQChannel publishes settlement events to a durable queue through the
// default exchange and consumes them with manual acknowledgment.
type RabbitMQChannel struct {
	conn     *amqp.Connection
	queue    string
	prefetch int
	logger   *zap.Logger

	mu  sync.Mutex // serializes publishes so confirm tags follow publish order
	pub *amqp.Channel
}

func NewRabbitMQChannel(url, queue string, prefetch int, logger *zap.Logger) (*RabbitMQChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	logger.Info("Connected to RabbitMQ", zap.String("queue", queue))

	return &RabbitMQChannel{
		conn:     conn,
		queue:    queue,
		prefetch: prefetch,
		logger:   logger,
		pub:      ch,
	}, nil
}

// Publish waits for the broker confirm so an accepted event is on disk.
func (c *RabbitMQChannel) Publish(ctx context.Context, event domain.SettlementEvent) error {
	body, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, amqpHeaderCarrier(headers))

	c.mu.Lock()
	confirm, err := c.pub.PublishWithDeferredConfirmWithContext(ctx,
		"",      // default exchange
		c.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  contentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.Token,
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         body,
		},
	)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: publish: %w", domain.ErrPublish, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: waiting for confirm: %w", domain.ErrPublish, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker nacked delivery %d", domain.ErrPublish, confirm.DeliveryTag)
	}
	return nil
}

func (c *RabbitMQChannel) Subscribe(ctx context.Context) (<-chan port.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := ch.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	out := make(chan port.Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				event, err := DecodeEvent(msg.Body)
				if err != nil {
					c.logger.Error("Dropping undecodable settlement message",
						zap.String("message_id", msg.MessageId), zap.Error(err))
					msg.Nack(false, false)
					continue
				}

				d := &rabbitDelivery{
					event: event,
					ctx:   otel.GetTextMapPropagator().Extract(ctx, amqpHeaderCarrier(msg.Headers)),
					msg:   msg,
				}
				select {
				case out <- d:
				case <-ctx.Done():
					msg.Nack(false, true)
					return
				}
			}
		}
	}()

	c.logger.Info("RabbitMQ consumer started", zap.String("queue", c.queue), zap.Int("prefetch", c.prefetch))
	return out, nil
}

// Close closes the connection and with it every consumer channel.
func (c *RabbitMQChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// Healthy reports whether the broker connection is open.
func (c *RabbitMQChannel) Healthy() bool {
	return !c.conn.IsClosed()
}

type rabbitDelivery struct {
	event domain.SettlementEvent
	ctx   context.Context
	msg   amqp.Delivery
}

func (d *rabbitDelivery) Event() domain.SettlementEvent { return d.event }
func (d *rabbitDelivery) Context() context.Context      { return d.ctx }

func (d *rabbitDelivery) Ack(ctx context.Context) error {
	return d.msg.Ack(false)
}

func (d *rabbitDelivery) Nack(ctx context.Context) error {
	return d.msg.Nack(false, true)
}

package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/port"
)

// kafkaHeaderCarrier adapts kafka message headers to the otel propagator.
type kafkaHeaderCarrier []kafka.Header

func (c *kafkaHeaderCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *kafkaHeaderCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *kafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: newKafkaWriter(brokers, topic)}
}

// Publish keys events by item so one item's events share a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.SettlementEvent) error {
	body, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	headers := kafkaHeaderCarrier{{Key: "content-type", Value: []byte(contentType)}}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.ItemID),
		Value:   body,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("%w: write message: %w", domain.ErrPublish, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSubscriber consumes settlement events in a consumer group. Each reader
// keeps one message in flight and waits for its Ack or Nack before fetching
// the next, so offsets are committed in order.
type KafkaSubscriber struct {
	config  kafka.ReaderConfig
	readers int
	requeue *kafka.Writer
	logger  *zap.Logger

	mu      sync.Mutex
	active  []*kafka.Reader
	closing bool
}

func NewKafkaSubscriber(brokers []string, topic, groupID string, readers int, logger *zap.Logger) *KafkaSubscriber {
	if readers < 1 {
		readers = 1
	}
	return &KafkaSubscriber{
		config: kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		},
		readers: readers,
		requeue: newKafkaWriter(brokers, topic),
		logger:  logger,
	}
}

func (s *KafkaSubscriber) Subscribe(ctx context.Context) (<-chan port.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, errors.New("kafka subscriber closed")
	}

	out := make(chan port.Delivery)
	var wg sync.WaitGroup
	for i := 0; i < s.readers; i++ {
		r := kafka.NewReader(s.config)
		s.active = append(s.active, r)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consume(ctx, r, out)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	s.logger.Info("Kafka subscriber started",
		zap.String("topic", s.config.Topic),
		zap.String("group_id", s.config.GroupID),
		zap.Int("readers", s.readers))
	return out, nil
}

func (s *KafkaSubscriber) consume(ctx context.Context, r *kafka.Reader, out chan<- port.Delivery) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			s.logger.Error("Failed to fetch message, retrying", zap.Error(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		event, err := DecodeEvent(msg.Value)
		if err != nil {
			// poison message, nothing can settle it
			s.logger.Error("Dropping undecodable settlement message",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			if err := r.CommitMessages(ctx, msg); err != nil {
				s.logger.Error("Failed to commit message", zap.Error(err))
			}
			continue
		}

		carrier := kafkaHeaderCarrier(msg.Headers)
		d := &kafkaDelivery{
			event:   event,
			ctx:     otel.GetTextMapPropagator().Extract(ctx, &carrier),
			msg:     msg,
			reader:  r,
			requeue: s.requeue,
			done:    make(chan struct{}),
		}

		select {
		case out <- d:
		case <-ctx.Done():
			return
		}

		select {
		case <-d.done:
		case <-ctx.Done():
			return
		}
	}
}

func (s *KafkaSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}
	s.closing = true

	var errs []error
	for _, r := range s.active {
		errs = append(errs, r.Close())
	}
	errs = append(errs, s.requeue.Close())
	return errors.Join(errs...)
}

type kafkaDelivery struct {
	event   domain.SettlementEvent
	ctx     context.Context
	msg     kafka.Message
	reader  *kafka.Reader
	requeue *kafka.Writer

	once sync.Once
	done chan struct{}
}

func (d *kafkaDelivery) Event() domain.SettlementEvent { return d.event }
func (d *kafkaDelivery) Context() context.Context      { return d.ctx }

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	defer d.release()
	if err := d.reader.CommitMessages(ctx, d.msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", d.msg.Offset, err)
	}
	return nil
}

// Nack produces the message again at the tail of the topic and commits the
// original, since a consumer group cannot rewind a single offset.
func (d *kafkaDelivery) Nack(ctx context.Context) error {
	defer d.release()
	err := d.requeue.WriteMessages(ctx, kafka.Message{
		Key:     d.msg.Key,
		Value:   d.msg.Value,
		Headers: d.msg.Headers,
	})
	if err != nil {
		// a later commit passes this offset; the reconciler resolves the entry
		return fmt.Errorf("requeue message %d: %w", d.msg.Offset, err)
	}
	if err := d.reader.CommitMessages(ctx, d.msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", d.msg.Offset, err)
	}
	return nil
}

func (d *kafkaDelivery) release() {
	d.once.Do(func() { close(d.done) })
}

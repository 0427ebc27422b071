package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/port"
)

const settleTimeout = 5 * time.Second

// SettlementWorkerPool drains a settlement subscription into the
// materializer with a fixed number of workers.
type SettlementWorkerPool struct {
	subscriber   port.SettlementSubscriber
	materializer *Materializer
	workers      int
	retryBackoff time.Duration
	logger       *zap.Logger
}

func NewSettlementWorkerPool(sub port.SettlementSubscriber, m *Materializer, workers int, retryBackoff time.Duration, logger *zap.Logger) *SettlementWorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &SettlementWorkerPool{
		subscriber:   sub,
		materializer: m,
		workers:      workers,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

// Run blocks until ctx is done or the subscription ends.
func (p *SettlementWorkerPool) Run(ctx context.Context) error {
	deliveries, err := p.subscriber.Subscribe(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id, deliveries)
		}(i)
	}
	p.logger.Info("Settlement workers started", zap.Int("workers", p.workers))

	wg.Wait()
	p.logger.Info("Settlement workers stopped")
	return nil
}

func (p *SettlementWorkerPool) workerLoop(ctx context.Context, id int, deliveries <-chan port.Delivery) {
	for d := range deliveries {
		p.handle(ctx, id, d)
	}
}

func (p *SettlementWorkerPool) handle(ctx context.Context, id int, d port.Delivery) {
	event := d.Event()
	log := p.logger.With(zap.Int("worker", id), zap.String("token", event.Token))
	if sc := trace.SpanContextFromContext(d.Context()); sc.HasTraceID() {
		log = log.With(zap.String("trace_id", sc.TraceID().String()))
	}

	settleCtx, cancel := context.WithTimeout(d.Context(), settleTimeout)
	_, outcome, err := p.materializer.Settle(settleCtx, event)
	cancel()

	// acknowledgment must reach the broker even while shutting down
	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer ackCancel()

	switch {
	case err == nil:
		if outcome == SettleDuplicate {
			log.Debug("Duplicate settlement ignored")
		}
		if err := d.Ack(ackCtx); err != nil {
			log.Error("Failed to ack settlement", zap.Error(err))
		}

	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrLedgerEntryNotFound):
		// the entry was rolled back or never existed; redelivery cannot help
		log.Warn("Settlement rejected", zap.Error(err))
		if err := d.Ack(ackCtx); err != nil {
			log.Error("Failed to ack settlement", zap.Error(err))
		}

	default:
		log.Error("Settlement failed, will redeliver", zap.Error(err))
		select {
		case <-time.After(p.retryBackoff):
		case <-ctx.Done():
		}
		if err := d.Nack(ackCtx); err != nil {
			log.Error("Failed to nack settlement", zap.Error(err))
		}
	}
}

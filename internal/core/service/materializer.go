package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/metrics"
	"github.com/rl1809/flash-sale/internal/port"
)

const tracerName = "github.com/rl1809/flash-sale/internal/core/service"

type SettleOutcome int

const (
	SettleCommitted SettleOutcome = iota + 1
	SettleDuplicate
)

func (o SettleOutcome) String() string {
	switch o {
	case SettleCommitted:
		return "committed"
	case SettleDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Materializer turns settlement events into durable orders. It is safe to
// feed the same event any number of times: the first delivery commits, the
// rest observe the committed entry and return the stored order.
type Materializer struct {
	db      port.DatabaseRepository
	ledger  *StockLedger
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewMaterializer(db port.DatabaseRepository, ledger *StockLedger, logger *zap.Logger, m *metrics.Metrics) *Materializer {
	return &Materializer{
		db:      db,
		ledger:  ledger,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Materializer) Settle(ctx context.Context, event domain.SettlementEvent) (*domain.Order, SettleOutcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Materializer.Settle")
	span.SetAttributes(
		attribute.String("ledger.token", event.Token),
		attribute.String("item.id", event.ItemID),
	)
	defer span.End()

	order, outcome, err := m.settle(ctx, event)
	switch {
	case err == nil:
		m.metrics.Settlement(outcome.String())
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrLedgerEntryNotFound):
		m.metrics.Settlement("rejected")
	default:
		m.metrics.Settlement("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return order, outcome, err
}

func (m *Materializer) settle(ctx context.Context, event domain.SettlementEvent) (*domain.Order, SettleOutcome, error) {
	entry, err := m.ledger.Lookup(ctx, event.Token)
	if err != nil {
		return nil, 0, err
	}

	switch entry.Status {
	case domain.LedgerStatusReserved:
	case domain.LedgerStatusCommitted:
		return m.existing(ctx, event.Token)
	default:
		return nil, 0, fmt.Errorf("%w: %s is %s", domain.ErrIllegalTransition, event.Token, entry.Status)
	}

	// the ledger entry is authoritative for what was reserved
	event.ItemID = entry.ItemID
	event.UserID = entry.UserID
	event.PromoID = entry.PromoID
	event.Amount = entry.Amount

	order := event.NewOrder(uuid.NewString(), m.now())
	err = m.db.CommitSettlement(ctx, order)
	switch {
	case err == nil:
		m.logger.Info("Order materialized",
			zap.String("order_id", order.ID),
			zap.String("token", order.Token),
			zap.String("item_id", order.ItemID),
			zap.Int64("amount", order.Amount))
		return &order, SettleCommitted, nil

	case errors.Is(err, domain.ErrDuplicateRequest):
		// a concurrent delivery won the insert
		return m.existing(ctx, event.Token)

	case errors.Is(err, domain.ErrIllegalTransition):
		current, lookupErr := m.ledger.Lookup(ctx, event.Token)
		if lookupErr == nil && current.Status == domain.LedgerStatusCommitted {
			return m.existing(ctx, event.Token)
		}
		return nil, 0, err

	default:
		return nil, 0, fmt.Errorf("%w: commit settlement %s: %w", domain.ErrPersistence, event.Token, err)
	}
}

func (m *Materializer) existing(ctx context.Context, token string) (*domain.Order, SettleOutcome, error) {
	order, err := m.db.GetOrderByToken(ctx, token)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return order, SettleDuplicate, nil
}

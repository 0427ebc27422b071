package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/metrics"
	"github.com/rl1809/flash-sale/internal/port"
)

const (
	requestKeyPrefix    = "request:"
	restockMaxRetries   = 5
	defaultMaxAmount    = 99
	defaultRequestTTL   = 10 * time.Minute
	defaultPublishTries = 3
)

type Options struct {
	MaxAmount       int64
	RequestTTL      time.Duration
	PublishAttempts int
	PublishBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAmount <= 0 {
		o.MaxAmount = defaultMaxAmount
	}
	if o.RequestTTL <= 0 {
		o.RequestTTL = defaultRequestTTL
	}
	if o.PublishAttempts <= 0 {
		o.PublishAttempts = defaultPublishTries
	}
	return o
}

// OrderService coordinates a purchase: it gates on the promotion, records the
// attempt in the ledger, reserves stock with a single atomic decrement and
// hands the reservation to the settlement channel. Nothing on this path takes
// a lock; concurrent requests are ordered by the cache and the ledger.
type OrderService struct {
	tier         *StockTier
	gate         *PromoGate
	ledger       *StockLedger
	materializer *Materializer
	publisher    port.SettlementPublisher
	db           port.DatabaseRepository
	opts         Options
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewOrderService(
	tier *StockTier,
	gate *PromoGate,
	ledger *StockLedger,
	materializer *Materializer,
	publisher port.SettlementPublisher,
	db port.DatabaseRepository,
	opts Options,
	logger *zap.Logger,
	m *metrics.Metrics,
) *OrderService {
	return &OrderService{
		tier:         tier,
		gate:         gate,
		ledger:       ledger,
		materializer: materializer,
		publisher:    publisher,
		db:           db,
		opts:         opts.withDefaults(),
		logger:       logger,
		metrics:      m,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder reserves stock for the intent. A nil error means the stock is
// held and the order will be materialized asynchronously.
func (s *OrderService) CreateOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Reservation, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "OrderService.CreateOrder")
	span.SetAttributes(
		attribute.String("user.id", intent.UserID),
		attribute.String("item.id", intent.ItemID),
		attribute.Int64("order.amount", intent.Amount),
	)
	defer span.End()

	res, err := s.createOrder(ctx, intent)

	s.metrics.Reservation(reservationResult(res, err), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("ledger.token", res.Token))
	}
	return res, err
}

func reservationResult(res *domain.Reservation, err error) string {
	switch {
	case err == nil && res.Duplicate:
		return "duplicate"
	case err == nil:
		return "reserved"
	case errors.Is(err, domain.ErrValidation):
		return "rejected"
	case errors.Is(err, domain.ErrStockExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrCacheUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (s *OrderService) createOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Reservation, error) {
	if err := s.validate(intent); err != nil {
		return nil, err
	}

	promo, err := s.gate.Resolve(ctx, intent.ItemID)
	if err != nil {
		return nil, err
	}
	if err := s.admit(promo, intent); err != nil {
		// rejected attempts are recorded but never touch the counter
		if _, recErr := s.ledger.Begin(ctx, intent, domain.LedgerStatusFailed); recErr != nil {
			s.logger.Error("Failed to record rejected attempt", zap.String("item_id", intent.ItemID), zap.Error(recErr))
		}
		return nil, err
	}

	token := NewToken()
	if intent.RequestID != "" {
		claimed, err := s.tier.Claim(ctx, requestKeyPrefix+intent.RequestID, token, s.opts.RequestTTL)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return s.priorReservation(ctx, intent)
		}
	}

	soldOut, err := s.tier.IsSoldOut(ctx, intent.ItemID)
	if err != nil {
		s.release(ctx, intent, token)
		return nil, err
	}
	if soldOut {
		if intent.RequestID != "" {
			// retries of this request must find an answer under the claimed token
			if err := s.ledger.Record(ctx, token, intent, domain.LedgerStatusFailed); err != nil {
				s.logger.Error("Failed to record sold-out attempt", zap.String("token", token), zap.Error(err))
			}
		}
		return nil, fmt.Errorf("%w: item %s is sold out", domain.ErrStockExhausted, intent.ItemID)
	}

	if err := s.ledger.Record(ctx, token, intent, domain.LedgerStatusInitiated); err != nil {
		s.release(ctx, intent, token)
		return nil, err
	}

	remaining, err := s.tier.Decrement(ctx, intent.ItemID, intent.Amount)
	if err != nil {
		s.fail(ctx, token)
		s.release(ctx, intent, token)
		if errors.Is(err, domain.ErrItemNotFound) {
			s.logger.Warn("Stock counter missing, item needs warm-up", zap.String("item_id", intent.ItemID))
		}
		return nil, err
	}

	if remaining < 0 {
		s.compensate(ctx, intent.ItemID, intent.Amount, "overshoot")
		s.fail(ctx, token)
		return nil, fmt.Errorf("%w: item %s", domain.ErrStockExhausted, intent.ItemID)
	}

	if remaining == 0 {
		if err := s.tier.MarkSoldOut(ctx, intent.ItemID); err != nil {
			s.logger.Warn("Failed to set sold-out flag", zap.String("item_id", intent.ItemID), zap.Error(err))
		}
	}

	if err := s.ledger.Transition(ctx, token, domain.LedgerStatusReserved); err != nil {
		// the entry stays Initiated; the sweep moves it to Failed
		s.compensate(ctx, intent.ItemID, intent.Amount, "ledger_write")
		s.release(ctx, intent, token)
		if errors.Is(err, domain.ErrPersistence) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	res := &domain.Reservation{
		Token:   token,
		UserID:  intent.UserID,
		ItemID:  intent.ItemID,
		PromoID: intent.PromoID,
		Amount:  intent.Amount,
		Status:  domain.LedgerStatusReserved,
	}

	event := domain.SettlementEvent{
		Token:      token,
		ItemID:     intent.ItemID,
		UserID:     intent.UserID,
		PromoID:    intent.PromoID,
		Amount:     intent.Amount,
		Price:      promo.Price,
		OccurredAt: s.now(),
	}
	if order := s.dispatch(ctx, event); order != nil {
		res.Status = domain.LedgerStatusCommitted
		res.OrderID = order.ID
	}

	s.logger.Debug("Stock reserved",
		zap.String("token", token),
		zap.String("item_id", intent.ItemID),
		zap.Int64("remaining", remaining))
	return res, nil
}

func (s *OrderService) validate(intent domain.OrderIntent) error {
	if intent.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if intent.ItemID == "" {
		return fmt.Errorf("%w: item_id is required", domain.ErrValidation)
	}
	if intent.Amount < 1 || intent.Amount > s.opts.MaxAmount {
		return fmt.Errorf("%w: amount must be between 1 and %d", domain.ErrValidation, s.opts.MaxAmount)
	}
	return nil
}

func (s *OrderService) admit(promo *domain.PromoContext, intent domain.OrderIntent) error {
	if err := s.gate.Validate(promo, s.now()); err != nil {
		return err
	}
	if promo.ID != intent.PromoID {
		return fmt.Errorf("%w: promotion %q does not apply to item %s", domain.ErrValidation, intent.PromoID, intent.ItemID)
	}
	return nil
}

// priorReservation answers a retried request with the reservation its first
// attempt produced.
func (s *OrderService) priorReservation(ctx context.Context, intent domain.OrderIntent) (*domain.Reservation, error) {
	token, err := s.tier.GetString(ctx, requestKeyPrefix+intent.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: request %s", domain.ErrDuplicateRequest, intent.RequestID)
		}
		return nil, err
	}

	res, err := s.GetReservation(ctx, token)
	if errors.Is(err, domain.ErrLedgerEntryNotFound) {
		// the first attempt holds the claim but has not written its entry yet
		return nil, fmt.Errorf("%w: request %s is still in progress", domain.ErrDuplicateRequest, intent.RequestID)
	}
	if err != nil {
		return nil, err
	}

	res.Duplicate = true
	return res, nil
}

// dispatch publishes the settlement event, retrying with exponential backoff,
// and falls back to settling in-line. If both fail the entry stays Reserved
// and the reconciler resolves it. It returns the order when settled in-line.
func (s *OrderService) dispatch(ctx context.Context, event domain.SettlementEvent) *domain.Order {
	backoff := s.opts.PublishBackoff
	var err error
	for attempt := 1; attempt <= s.opts.PublishAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.PublishRetry()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			backoff *= 2
		}
		if ctx.Err() != nil {
			break
		}

		if err = s.publisher.Publish(ctx, event); err == nil {
			return nil
		}
		s.logger.Warn("Settlement publish failed",
			zap.String("token", event.Token),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	// the caller may be gone, the reservation still has to settle
	order, _, err := s.materializer.Settle(context.WithoutCancel(ctx), event)
	if err != nil {
		s.logger.Error("Synchronous settlement failed, leaving reservation for reconciliation",
			zap.String("token", event.Token),
			zap.Error(err))
		return nil
	}
	s.logger.Info("Reservation settled synchronously after publish failure", zap.String("token", event.Token))
	return order
}

func (s *OrderService) fail(ctx context.Context, token string) {
	if err := s.ledger.Transition(ctx, token, domain.LedgerStatusFailed); err != nil {
		s.logger.Error("Failed to mark ledger entry failed", zap.String("token", token), zap.Error(err))
	}
}

// release gives up the request claim after a failure the client may retry,
// so the retry is processed instead of answered as a duplicate.
func (s *OrderService) release(ctx context.Context, intent domain.OrderIntent, token string) {
	if intent.RequestID == "" {
		return
	}
	if err := s.tier.Release(ctx, requestKeyPrefix+intent.RequestID, token); err != nil {
		s.logger.Warn("Failed to release request claim",
			zap.String("request_id", intent.RequestID),
			zap.String("token", token),
			zap.Error(err))
	}
}

func (s *OrderService) compensate(ctx context.Context, itemID string, amount int64, reason string) {
	s.metrics.Compensation(reason)
	if _, err := s.tier.Compensate(ctx, itemID, amount); err != nil {
		s.logger.Error("CRITICAL: stock compensation failed",
			zap.String("item_id", itemID),
			zap.Int64("amount", amount),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

// Rollback releases a Reserved entry's stock. The ledger switch happens
// first so only one caller ever increments the counter; a second call on the
// same token returns false.
func (s *OrderService) Rollback(ctx context.Context, token string) (bool, error) {
	entry, err := s.ledger.Lookup(ctx, token)
	if err != nil {
		return false, err
	}

	if err := s.ledger.Transition(ctx, token, domain.LedgerStatusRolledBack); err != nil {
		if !errors.Is(err, domain.ErrIllegalTransition) {
			return false, err
		}
		current, lookupErr := s.ledger.Lookup(ctx, token)
		if lookupErr == nil && current.Status == domain.LedgerStatusRolledBack {
			return false, nil
		}
		return false, err
	}

	s.metrics.Compensation("rollback")
	if _, err := s.tier.Compensate(ctx, entry.ItemID, entry.Amount); err != nil {
		s.logger.Error("CRITICAL: rolled back entry not returned to stock",
			zap.String("token", token),
			zap.String("item_id", entry.ItemID),
			zap.Int64("amount", entry.Amount),
			zap.Error(err))
		return true, err
	}

	s.logger.Info("Reservation rolled back",
		zap.String("token", token),
		zap.String("item_id", entry.ItemID),
		zap.Int64("amount", entry.Amount))
	return true, nil
}

func (s *OrderService) GetAvailableStock(ctx context.Context, itemID string) (int64, error) {
	stock, err := s.tier.Available(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return stock.Available, nil
}

func (s *OrderService) GetItemStock(ctx context.Context, itemID string) (domain.ItemStock, error) {
	return s.tier.Available(ctx, itemID)
}

func (s *OrderService) GetReservation(ctx context.Context, token string) (*domain.Reservation, error) {
	entry, err := s.ledger.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	res := &domain.Reservation{
		Token:   entry.Token,
		UserID:  entry.UserID,
		ItemID:  entry.ItemID,
		PromoID: entry.PromoID,
		Amount:  entry.Amount,
		Status:  entry.Status,
	}

	if entry.Status == domain.LedgerStatusCommitted {
		order, err := s.db.GetOrderByToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		if order != nil {
			res.OrderID = order.ID
		}
	}
	return res, nil
}

// Restock adds amount to the durable inventory, then to the live counter,
// which also clears the sold-out flag.
func (s *OrderService) Restock(ctx context.Context, itemID string, amount int64) (int64, error) {
	if itemID == "" || amount < 1 {
		return 0, fmt.Errorf("%w: restock needs an item and a positive amount", domain.ErrValidation)
	}

	if err := s.addInventory(ctx, itemID, amount); err != nil {
		return 0, err
	}

	v, err := s.tier.Restock(ctx, itemID, amount)
	if err != nil {
		s.logger.Error("CRITICAL: durable inventory restocked but live counter not updated",
			zap.String("item_id", itemID),
			zap.Int64("amount", amount),
			zap.Error(err))
		return 0, err
	}

	s.logger.Info("Item restocked", zap.String("item_id", itemID), zap.Int64("amount", amount), zap.Int64("available", v))
	return v, nil
}

func (s *OrderService) addInventory(ctx context.Context, itemID string, amount int64) error {
	for attempt := 0; attempt < restockMaxRetries; attempt++ {
		inv, err := s.db.GetInventory(ctx, itemID)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}

		if inv == nil {
			created, err := s.db.InsertInventory(ctx, domain.Inventory{ItemID: itemID, Quantity: amount})
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
			}
			if created {
				return nil
			}
			continue
		}

		inv.Quantity += amount
		err = s.db.UpdateInventory(ctx, *inv)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrOptimisticLock) {
			return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
	}
	return fmt.Errorf("%w: restock %s: %w", domain.ErrPersistence, itemID, domain.ErrOptimisticLock)
}

// InitStock makes sure the item has a durable row, creating it with quantity
// if missing, and seeds the live counter from that row unless the counter
// already exists. It returns the live count.
func (s *OrderService) InitStock(ctx context.Context, itemID string, quantity int64) (int64, error) {
	if _, err := s.db.InsertInventory(ctx, domain.Inventory{ItemID: itemID, Quantity: quantity}); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if err := s.WarmUp(ctx, []string{itemID}); err != nil {
		return 0, err
	}
	return s.GetAvailableStock(ctx, itemID)
}

// WarmUp seeds live counters from durable inventory. Existing counters are
// left alone so units reserved before a restart are not handed out twice.
func (s *OrderService) WarmUp(ctx context.Context, itemIDs []string) error {
	for _, itemID := range itemIDs {
		inv, err := s.db.GetInventory(ctx, itemID)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		if inv == nil {
			s.logger.Warn("No inventory to warm", zap.String("item_id", itemID))
			continue
		}

		warmed, err := s.tier.Warm(ctx, itemID, inv.Quantity)
		if err != nil {
			return err
		}
		s.logger.Info("Stock counter ready",
			zap.String("item_id", itemID),
			zap.Int64("durable", inv.Quantity),
			zap.Bool("seeded", warmed))
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/port"
)

const (
	promoCacheKeyPrefix = "promo:item:"

	// items without a promotion are remembered briefly so a newly published
	// promotion is picked up quickly
	promoMissTTL = 30 * time.Second
)

// PromoGate resolves an item's promotion, read-through the cache tier, and
// decides whether a purchase may proceed.
type PromoGate struct {
	tier    *StockTier
	catalog port.PromoCatalog
	ttl     time.Duration
	logger  *zap.Logger
}

func NewPromoGate(tier *StockTier, catalog port.PromoCatalog, ttl time.Duration, logger *zap.Logger) *PromoGate {
	return &PromoGate{tier: tier, catalog: catalog, ttl: ttl, logger: logger}
}

// Resolve returns nil, nil when the item has no promotion.
func (g *PromoGate) Resolve(ctx context.Context, itemID string) (*domain.PromoContext, error) {
	key := promoCacheKeyPrefix + itemID

	// a cached null records that the item has no promotion
	var cached *domain.PromoContext
	err := g.tier.GetJSON(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		g.logger.Warn("Promo cache read failed, falling back to catalog",
			zap.String("item_id", itemID), zap.Error(err))
	}

	promo, err := g.catalog.FindByItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve promo: %w", domain.ErrPersistence, err)
	}
	ttl := g.ttl
	if promo == nil {
		ttl = min(ttl, promoMissTTL)
	}
	if err := g.tier.PutJSON(ctx, key, promo, ttl); err != nil {
		g.logger.Warn("Promo cache fill failed", zap.String("item_id", itemID), zap.Error(err))
	}
	return promo, nil
}

// Validate returns nil only for a promotion that is active at now.
func (g *PromoGate) Validate(promo *domain.PromoContext, now time.Time) error {
	if promo == nil {
		return fmt.Errorf("%w: item has no promotion", domain.ErrValidation)
	}

	switch status := promo.EffectiveStatus(now); status {
	case domain.PromoStatusActive:
		return nil
	case domain.PromoStatusNotStarted:
		return fmt.Errorf("%w: promotion %s has not started", domain.ErrValidation, promo.ID)
	case domain.PromoStatusEnded:
		return fmt.Errorf("%w: promotion %s has ended", domain.ErrValidation, promo.ID)
	default:
		return fmt.Errorf("%w: promotion %s is %s", domain.ErrValidation, promo.ID, status)
	}
}

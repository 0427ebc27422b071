package port

import (
	"context"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

type PromoCatalog interface {
	// FindByItem returns nil, nil when the item has no promotion
	FindByItem(ctx context.Context, itemID string) (*domain.PromoContext, error)
}

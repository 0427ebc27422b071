package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementEvent is published once a reservation holds stock and is consumed
// by the order materializer. Delivery is at-least-once; Token is the dedupe key.
type SettlementEvent struct {
	Token      string          `json:"token"`
	ItemID     string          `json:"item_id"`
	UserID     string          `json:"user_id"`
	PromoID    string          `json:"promo_id"`
	Amount     int64           `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewOrder builds the order a settlement event materializes into.
func (e SettlementEvent) NewOrder(id string, now time.Time) Order {
	return Order{
		ID:         id,
		Token:      e.Token,
		UserID:     e.UserID,
		ItemID:     e.ItemID,
		PromoID:    e.PromoID,
		Amount:     e.Amount,
		ItemPrice:  e.Price,
		OrderPrice: e.Price.Mul(decimal.NewFromInt(e.Amount)),
		Status:     OrderStatusConfirmed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

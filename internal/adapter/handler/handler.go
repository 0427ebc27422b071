package handler

import (
	"context"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

// OrderUseCase is what the inbound surfaces need from the order service.
type OrderUseCase interface {
	CreateOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Reservation, error)
	GetReservation(ctx context.Context, token string) (*domain.Reservation, error)
	GetItemStock(ctx context.Context, itemID string) (domain.ItemStock, error)
	Restock(ctx context.Context, itemID string, amount int64) (int64, error)
}

// HealthCheck is a named dependency probe used by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type ReservationBody struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`
	PromoID   string `json:"promo_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	OrderID   string `json:"order_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func toReservationBody(r *domain.Reservation) *ReservationBody {
	return &ReservationBody{
		Token:     r.Token,
		UserID:    r.UserID,
		ItemID:    r.ItemID,
		PromoID:   r.PromoID,
		Amount:    r.Amount,
		Status:    string(r.Status),
		OrderID:   r.OrderID,
		Duplicate: r.Duplicate,
	}
}

package handler

import (
	"context"
	"fmt"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

type stubOrders struct {
	reservation *domain.Reservation
	stock       domain.ItemStock
	restocked   int64
	err         error

	lastIntent domain.OrderIntent
}

func (s *stubOrders) CreateOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Reservation, error) {
	s.lastIntent = intent
	if s.err != nil {
		return nil, s.err
	}
	return s.reservation, nil
}

func (s *stubOrders) GetReservation(ctx context.Context, token string) (*domain.Reservation, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.reservation == nil || s.reservation.Token != token {
		return nil, fmt.Errorf("reservation %s: %w", token, domain.ErrLedgerEntryNotFound)
	}
	return s.reservation, nil
}

func (s *stubOrders) GetItemStock(ctx context.Context, itemID string) (domain.ItemStock, error) {
	if s.err != nil {
		return domain.ItemStock{}, s.err
	}
	st := s.stock
	st.ItemID = itemID
	return st, nil
}

func (s *stubOrders) Restock(ctx context.Context, itemID string, amount int64) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.restocked += amount
	return s.restocked, nil
}

func reservedFixture() *domain.Reservation {
	return &domain.Reservation{
		Token:   "tok-1",
		UserID:  "user-1",
		ItemID:  "iphone-15",
		PromoID: "promo-1",
		Amount:  1,
		Status:  domain.LedgerStatusReserved,
	}
}

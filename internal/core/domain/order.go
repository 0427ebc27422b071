package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderIntent is the inbound purchase request. RequestID is an optional
// client-supplied key used to collapse retries of the same request.
type OrderIntent struct {
	RequestID string
	UserID    string
	ItemID    string
	PromoID   string
	Amount    int64
}

// Order is the durable result of a committed reservation, linked 1:1 to a
// ledger entry by Token.
type Order struct {
	ID         string
	Token      string
	UserID     string
	ItemID     string
	PromoID    string
	Amount     int64
	ItemPrice  decimal.Decimal
	OrderPrice decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Reservation is what the caller gets back from CreateOrder. The order itself
// is materialized asynchronously; OrderID is filled once it exists.
type Reservation struct {
	Token     string
	UserID    string
	ItemID    string
	PromoID   string
	Amount    int64
	Status    LedgerStatus
	OrderID   string
	Duplicate bool
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PromoStatus int

const (
	PromoStatusNotStarted PromoStatus = 1
	PromoStatusActive     PromoStatus = 2
	PromoStatusEnded      PromoStatus = 3
	PromoStatusInvalid    PromoStatus = 4
)

func (s PromoStatus) String() string {
	switch s {
	case PromoStatusNotStarted:
		return "not_started"
	case PromoStatusActive:
		return "active"
	case PromoStatusEnded:
		return "ended"
	case PromoStatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// PromoContext is the promotion attached to an item, as published by the
// catalog. The window is half-open: [StartAt, EndAt).
type PromoContext struct {
	ID      string          `json:"id"`
	ItemID  string          `json:"item_id"`
	Name    string          `json:"name"`
	StartAt time.Time       `json:"start_at"`
	EndAt   time.Time       `json:"end_at"`
	Status  PromoStatus     `json:"status"`
	Price   decimal.Decimal `json:"price"`
}

// EffectiveStatus is the catalog status, narrowed by the window at now. Only
// a promotion the catalog marks Active can be Active, and only inside the
// window.
func (p PromoContext) EffectiveStatus(now time.Time) PromoStatus {
	switch p.Status {
	case PromoStatusActive:
	case PromoStatusNotStarted, PromoStatusEnded:
		return p.Status
	default:
		return PromoStatusInvalid
	}
	if now.Before(p.StartAt) {
		return PromoStatusNotStarted
	}
	if !now.Before(p.EndAt) {
		return PromoStatusEnded
	}
	return PromoStatusActive
}

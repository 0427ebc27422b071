package domain

import "time"

type LedgerStatus string

const (
	LedgerStatusInitiated  LedgerStatus = "initiated"
	LedgerStatusReserved   LedgerStatus = "reserved"
	LedgerStatusCommitted  LedgerStatus = "committed"
	LedgerStatusRolledBack LedgerStatus = "rolled_back"
	LedgerStatusFailed     LedgerStatus = "failed"
)

// predecessors maps every reachable status to the single status it may be
// entered from. Initiated has none: it is only ever created.
var predecessors = map[LedgerStatus]LedgerStatus{
	LedgerStatusReserved:   LedgerStatusInitiated,
	LedgerStatusCommitted:  LedgerStatusReserved,
	LedgerStatusRolledBack: LedgerStatusReserved,
	LedgerStatusFailed:     LedgerStatusInitiated,
}

// Predecessor returns the only status from which to can be reached.
func Predecessor(to LedgerStatus) (LedgerStatus, bool) {
	from, ok := predecessors[to]
	return from, ok
}

func CanTransition(from, to LedgerStatus) bool {
	p, ok := predecessors[to]
	return ok && p == from
}

func (s LedgerStatus) Terminal() bool {
	switch s {
	case LedgerStatusCommitted, LedgerStatusRolledBack, LedgerStatusFailed:
		return true
	}
	return false
}

func (s LedgerStatus) Valid() bool {
	switch s {
	case LedgerStatusInitiated, LedgerStatusReserved, LedgerStatusCommitted,
		LedgerStatusRolledBack, LedgerStatusFailed:
		return true
	}
	return false
}

// StockLedgerEntry records one reservation attempt. Entries are append-only:
// only Status and UpdatedAt ever change.
type StockLedgerEntry struct {
	Token     string
	ItemID    string
	PromoID   string
	UserID    string
	Amount    int64
	Status    LedgerStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

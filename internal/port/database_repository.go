package port

import (
	"context"
	"time"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

// LedgerRepository persists stock ledger entries.
type LedgerRepository interface {
	// InsertLedgerEntry returns domain.ErrDuplicateRequest if the token exists
	InsertLedgerEntry(ctx context.Context, entry domain.StockLedgerEntry) error

	// GetLedgerEntry returns nil, nil when the token is unknown
	GetLedgerEntry(ctx context.Context, token string) (*domain.StockLedgerEntry, error)

	// UpdateLedgerStatus switches status only if it currently equals from
	UpdateLedgerStatus(ctx context.Context, token string, from, to domain.LedgerStatus) (bool, error)

	// ListLedgerEntries returns entries in status last updated before the cutoff, oldest first
	ListLedgerEntries(ctx context.Context, status domain.LedgerStatus, updatedBefore time.Time, limit int) ([]domain.StockLedgerEntry, error)
}

type DatabaseRepository interface {
	LedgerRepository

	// CommitSettlement inserts the order, moves its ledger entry from reserved
	// to committed and records the sale on inventory, all in one transaction
	CommitSettlement(ctx context.Context, order domain.Order) error

	// GetOrderByToken returns nil, nil when no order exists for the token
	GetOrderByToken(ctx context.Context, token string) (*domain.Order, error)

	// InsertInventory creates the row unless it exists and reports whether it did
	InsertInventory(ctx context.Context, inventory domain.Inventory) (bool, error)

	// GetInventory retrieves inventory by item ID
	GetInventory(ctx context.Context, itemID string) (*domain.Inventory, error)

	// UpdateInventory updates inventory with version check for optimistic locking
	UpdateInventory(ctx context.Context, inventory domain.Inventory) error
}

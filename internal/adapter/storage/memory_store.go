package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

// MemoryStore is an in-process DatabaseRepository for local runs and tests.
// It keeps the same transactional contract as MySQLAdapter.CommitSettlement.
type MemoryStore struct {
	mu        sync.Mutex
	ledger    map[string]domain.StockLedgerEntry
	orders    map[string]domain.Order // by token
	inventory map[string]domain.Inventory
	now       func() time.Time

	failCommits bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledger:    make(map[string]domain.StockLedgerEntry),
		orders:    make(map[string]domain.Order),
		inventory: make(map[string]domain.Inventory),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetFailCommits makes CommitSettlement fail until it is switched off again.
func (s *MemoryStore) SetFailCommits(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = fail
}

// PutInventory seeds or replaces an inventory row.
func (s *MemoryStore) PutInventory(inv domain.Inventory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[inv.ItemID] = inv
}

// OrderCount returns the number of persisted orders.
func (s *MemoryStore) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *MemoryStore) InsertLedgerEntry(ctx context.Context, entry domain.StockLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledger[entry.Token]; ok {
		return fmt.Errorf("insert ledger entry %s: %w", entry.Token, domain.ErrDuplicateRequest)
	}
	s.ledger[entry.Token] = entry
	return nil
}

func (s *MemoryStore) GetLedgerEntry(ctx context.Context, token string) (*domain.StockLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ledger[token]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MemoryStore) UpdateLedgerStatus(ctx context.Context, token string, from, to domain.LedgerStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchStatus(token, from, to), nil
}

func (s *MemoryStore) switchStatus(token string, from, to domain.LedgerStatus) bool {
	e, ok := s.ledger[token]
	if !ok || e.Status != from {
		return false
	}
	e.Status = to
	e.UpdatedAt = s.now()
	s.ledger[token] = e
	return true
}

func (s *MemoryStore) ListLedgerEntries(ctx context.Context, status domain.LedgerStatus, updatedBefore time.Time, limit int) ([]domain.StockLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.StockLedgerEntry
	for _, e := range s.ledger {
		if e.Status == status && e.UpdatedAt.Before(updatedBefore) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.Before(entries[j].UpdatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) CommitSettlement(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommits {
		return fmt.Errorf("commit settlement %s: store unavailable", order.Token)
	}
	if _, ok := s.orders[order.Token]; ok {
		return fmt.Errorf("insert order for %s: %w", order.Token, domain.ErrDuplicateRequest)
	}
	e, ok := s.ledger[order.Token]
	if !ok || e.Status != domain.LedgerStatusReserved {
		return fmt.Errorf("commit ledger entry %s: %w", order.Token, domain.ErrIllegalTransition)
	}

	// inventory rows are optional in memory; when present they must cover the sale
	inv, tracked := s.inventory[order.ItemID]
	if tracked {
		if inv.Quantity < order.Amount {
			return domain.ErrOptimisticLock
		}
		inv.Quantity -= order.Amount
		inv.Sales += order.Amount
		inv.Version++
		inv.UpdatedAt = s.now()
	}

	s.switchStatus(order.Token, domain.LedgerStatusReserved, domain.LedgerStatusCommitted)
	s.orders[order.Token] = order
	if tracked {
		s.inventory[order.ItemID] = inv
	}
	return nil
}

func (s *MemoryStore) GetOrderByToken(ctx context.Context, token string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[token]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *MemoryStore) GetInventory(ctx context.Context, itemID string) (*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.inventory[itemID]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (s *MemoryStore) InsertInventory(ctx context.Context, inv domain.Inventory) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inventory[inv.ItemID]; ok {
		return false, nil
	}
	now := s.now()
	s.inventory[inv.ItemID] = domain.Inventory{ItemID: inv.ItemID, Quantity: inv.Quantity, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (s *MemoryStore) UpdateInventory(ctx context.Context, inv domain.Inventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.inventory[inv.ItemID]
	if !ok || cur.Version != inv.Version {
		return domain.ErrOptimisticLock
	}
	cur.Quantity = inv.Quantity
	cur.Version++
	cur.UpdatedAt = s.now()
	s.inventory[inv.ItemID] = cur
	return nil
}

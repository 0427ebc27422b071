package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

func TestMemoryStore_CommitSettlement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutInventory(domain.Inventory{ItemID: "item-1", Quantity: 2})

	entry := newLedgerEntry("item-1", domain.LedgerStatusReserved)
	require.NoError(t, store.InsertLedgerEntry(ctx, entry))

	order := domain.SettlementEvent{Token: entry.Token, ItemID: "item-1", UserID: "u", Amount: 1}.
		NewOrder("order-1", time.Now())
	require.NoError(t, store.CommitSettlement(ctx, order))

	err := store.CommitSettlement(ctx, order)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	got, _ := store.GetLedgerEntry(ctx, entry.Token)
	assert.Equal(t, domain.LedgerStatusCommitted, got.Status)

	inv, _ := store.GetInventory(ctx, "item-1")
	assert.Equal(t, int64(1), inv.Quantity)
	assert.Equal(t, int64(1), inv.Sales)
	assert.Equal(t, 1, store.OrderCount())
}

func TestMemoryStore_CommitFailureLeavesReserved(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetFailCommits(true)

	entry := newLedgerEntry("item-1", domain.LedgerStatusReserved)
	require.NoError(t, store.InsertLedgerEntry(ctx, entry))

	order := domain.SettlementEvent{Token: entry.Token, ItemID: "item-1", UserID: "u", Amount: 1}.
		NewOrder("order-1", time.Now())
	assert.Error(t, store.CommitSettlement(ctx, order))

	got, _ := store.GetLedgerEntry(ctx, entry.Token)
	assert.Equal(t, domain.LedgerStatusReserved, got.Status)
	assert.Zero(t, store.OrderCount())
}

func TestMemoryStore_ListLedgerEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 3; i++ {
		e := newLedgerEntry("item-1", domain.LedgerStatusReserved)
		e.UpdatedAt = time.Now().Add(-time.Duration(i+1) * time.Hour)
		require.NoError(t, store.InsertLedgerEntry(ctx, e))
	}
	require.NoError(t, store.InsertLedgerEntry(ctx, newLedgerEntry("item-1", domain.LedgerStatusCommitted)))

	entries, err := store.ListLedgerEntries(ctx, domain.LedgerStatusReserved, time.Now(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].UpdatedAt.Before(entries[1].UpdatedAt))
}

func TestMemoryStore_Inventory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.InsertInventory(ctx, domain.Inventory{ItemID: "item-1", Quantity: 5})
	require.NoError(t, err)
	assert.True(t, created)

	created, _ = store.InsertInventory(ctx, domain.Inventory{ItemID: "item-1", Quantity: 50})
	assert.False(t, created)

	inv, _ := store.GetInventory(ctx, "item-1")
	inv.Quantity = 8
	require.NoError(t, store.UpdateInventory(ctx, *inv))

	// same version again is stale
	assert.ErrorIs(t, store.UpdateInventory(ctx, *inv), domain.ErrOptimisticLock)

	got, _ := store.GetInventory(ctx, "item-1")
	assert.Equal(t, int64(8), got.Quantity)
	assert.Equal(t, 1, got.Version)
}

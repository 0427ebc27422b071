package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

func newTestReconciler(h *harness) *Reconciler {
	return NewReconciler(h.svc, h.ledger, h.tier, ReconcilerConfig{
		Interval:        time.Minute,
		ReservedTimeout: 5 * time.Minute,
		BatchSize:       10,
	}, zap.NewNop(), nil)
}

// A reservation whose settlement never arrives is rolled back by the sweep,
// and the settlement that finally shows up is rejected.
func TestReconciler_StaleReservationRolledBack(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	res, err := h.svc.CreateOrder(ctx, intent("u", 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), h.cache.stockOf(testItem))

	r := newTestReconciler(h)

	result, err := r.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.RolledBack, "fresh reservations are left alone")
	h.cache.deleteKey(reconcileLeaseKey)

	h.age(10 * time.Minute)
	result, err = r.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RolledBack)
	assert.Equal(t, int64(5), h.cache.stockOf(testItem))

	entry, _ := h.ledger.Lookup(ctx, res.Token)
	assert.Equal(t, domain.LedgerStatusRolledBack, entry.Status)

	_, _, err = h.materializer.Settle(ctx, h.publisher.published()[0])
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Zero(t, h.store.OrderCount())
	assert.Equal(t, int64(5), h.cache.stockOf(testItem))
}

func TestReconciler_StaleInitiatedFailed(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	token, err := h.ledger.Begin(ctx, intent("u", 1), domain.LedgerStatusInitiated)
	require.NoError(t, err)

	h.age(10 * time.Minute)
	result, err := newTestReconciler(h).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, int64(5), h.cache.stockOf(testItem), "initiated entries hold no stock")

	entry, _ := h.ledger.Lookup(ctx, token)
	assert.Equal(t, domain.LedgerStatusFailed, entry.Status)
}

func TestReconciler_CommittedUntouched(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	event := reserveOne(t, h)
	_, _, err := h.materializer.Settle(ctx, event)
	require.NoError(t, err)

	h.age(10 * time.Minute)
	result, err := newTestReconciler(h).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.RolledBack)
	assert.Equal(t, int64(3), h.cache.stockOf(testItem))
}

func TestReconciler_LeaseSkipsConcurrentSweep(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	first, err := newTestReconciler(h).SweepOnce(ctx)
	require.NoError(t, err)
	assert.False(t, first.Skipped)

	second, err := newTestReconciler(h).SweepOnce(ctx)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 5)
	r := NewReconciler(h.svc, h.ledger, h.tier, ReconcilerConfig{Interval: 10 * time.Millisecond, ReservedTimeout: time.Minute}, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}

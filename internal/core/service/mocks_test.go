package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/adapter/storage"
	"github.com/rl1809/flash-sale/internal/core/domain"
)

var errStoreDown = errors.New("connection refused")

// Mock CacheRepository
type mockCacheRepo struct {
	mu      sync.Mutex
	stock   map[string]int64
	soldOut map[string]bool
	keys    map[string]string

	failAll       bool
	failDecrement bool
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		stock:   make(map[string]int64),
		soldOut: make(map[string]bool),
		keys:    make(map[string]string),
	}
}

func (m *mockCacheRepo) err() error {
	if m.failAll {
		return errStoreDown
	}
	return nil
}

func (m *mockCacheRepo) DecrementAndGet(ctx context.Context, itemID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll || m.failDecrement {
		return 0, errStoreDown
	}
	if _, ok := m.stock[itemID]; !ok {
		return 0, domain.ErrItemNotFound
	}
	m.stock[itemID] -= amount
	return m.stock[itemID], nil
}

func (m *mockCacheRepo) IncrementBy(ctx context.Context, itemID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return 0, err
	}
	m.stock[itemID] += amount
	return m.stock[itemID], nil
}

func (m *mockCacheRepo) MarkSoldOut(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	m.soldOut[itemID] = true
	return nil
}

func (m *mockCacheRepo) IsSoldOut(ctx context.Context, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return false, err
	}
	return m.soldOut[itemID], nil
}

func (m *mockCacheRepo) GetStock(ctx context.Context, itemID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return 0, err
	}
	v, ok := m.stock[itemID]
	if !ok {
		return 0, domain.ErrItemNotFound
	}
	return v, nil
}

func (m *mockCacheRepo) SetStock(ctx context.Context, itemID string, quantity int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	m.stock[itemID] = quantity
	delete(m.soldOut, itemID)
	return nil
}

func (m *mockCacheRepo) WarmStock(ctx context.Context, itemID string, quantity int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return false, err
	}
	if _, ok := m.stock[itemID]; ok {
		return false, nil
	}
	m.stock[itemID] = quantity
	return true, nil
}

func (m *mockCacheRepo) Restock(ctx context.Context, itemID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return 0, err
	}
	m.stock[itemID] += amount
	delete(m.soldOut, itemID)
	return m.stock[itemID], nil
}

func (m *mockCacheRepo) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return false, err
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = value
	return true, nil
}

func (m *mockCacheRepo) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return false, err
	}
	if v, ok := m.keys[key]; !ok || v != value {
		return false, nil
	}
	delete(m.keys, key)
	return true, nil
}

func (m *mockCacheRepo) GetCached(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	v, ok := m.keys[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return []byte(v), nil
}

func (m *mockCacheRepo) PutCached(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	m.keys[key] = string(value)
	return nil
}

func (m *mockCacheRepo) stockOf(itemID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[itemID]
}

func (m *mockCacheRepo) isSoldOut(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.soldOut[itemID]
}

func (m *mockCacheRepo) hasStock(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stock[itemID]
	return ok
}

func (m *mockCacheRepo) deleteKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
}

// Mock PromoCatalog
type mockCatalog struct {
	mu     sync.Mutex
	promos map[string]domain.PromoContext
	calls  int
}

func (c *mockCatalog) FindByItem(ctx context.Context, itemID string) (*domain.PromoContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	p, ok := c.promos[itemID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Mock SettlementPublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.SettlementEvent
	calls  int
	fail   bool
}

func (p *mockPublisher) Publish(ctx context.Context, event domain.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return domain.ErrPublish
	}
	p.events = append(p.events, event)
	return nil
}

func (p *mockPublisher) published() []domain.SettlementEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SettlementEvent(nil), p.events...)
}

const (
	testItem  = "item-1"
	testPromo = "promo-1"
)

type harness struct {
	cache        *mockCacheRepo
	catalog      *mockCatalog
	publisher    *mockPublisher
	store        *storage.MemoryStore
	tier         *StockTier
	ledger       *StockLedger
	materializer *Materializer
	svc          *OrderService
}

func activePromo() domain.PromoContext {
	now := time.Now().UTC()
	return domain.PromoContext{
		ID:      testPromo,
		ItemID:  testItem,
		Name:    "flash",
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
		Status:  domain.PromoStatusActive,
		Price:   decimal.RequireFromString("9.99"),
	}
}

func newHarness(t *testing.T, stock int64) *harness {
	t.Helper()

	h := &harness{
		cache:     newMockCacheRepo(),
		catalog:   &mockCatalog{promos: map[string]domain.PromoContext{testItem: activePromo()}},
		publisher: &mockPublisher{},
		store:     storage.NewMemoryStore(),
	}
	h.cache.stock[testItem] = stock

	logger := zap.NewNop()
	h.tier = NewStockTier(h.cache)
	h.ledger = NewStockLedger(h.store)
	h.materializer = NewMaterializer(h.store, h.ledger, logger, nil)
	gate := NewPromoGate(h.tier, h.catalog, time.Minute, logger)
	h.svc = NewOrderService(h.tier, gate, h.ledger, h.materializer, h.publisher, h.store, Options{
		MaxAmount:       99,
		PublishAttempts: 3,
		PublishBackoff:  time.Millisecond,
	}, logger, nil)
	return h
}

func intent(user string, amount int64) domain.OrderIntent {
	return domain.OrderIntent{UserID: user, ItemID: testItem, PromoID: testPromo, Amount: amount}
}

func (h *harness) countEntries(status domain.LedgerStatus) int {
	entries, _ := h.store.ListLedgerEntries(context.Background(), status, time.Now().Add(24*time.Hour), 0)
	return len(entries)
}

// age makes every existing ledger entry look older than the reconcile timeout.
func (h *harness) age(d time.Duration) {
	h.ledger.now = func() time.Time { return time.Now().UTC().Add(d) }
}

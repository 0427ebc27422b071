package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/adapter/messaging"
	"github.com/rl1809/flash-sale/internal/adapter/storage"
	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/port"
)

type stack struct {
	svc        *OrderService
	tier       *StockTier
	channel    *messaging.MemoryChannel
	reconciler *Reconciler
	stop       func()
}

func newStack(t *testing.T, client redis.UniversalClient, db port.DatabaseRepository, itemID string) *stack {
	t.Helper()

	logger := zap.NewNop()
	promo := activePromo()
	promo.ItemID = itemID

	tier := NewStockTier(storage.NewRedisAdapter(client))
	ledger := NewStockLedger(db)
	materializer := NewMaterializer(db, ledger, logger, nil)
	gate := NewPromoGate(tier, &mockCatalog{promos: map[string]domain.PromoContext{itemID: promo}}, time.Minute, logger)
	channel := messaging.NewMemoryChannel(1000)

	svc := NewOrderService(tier, gate, ledger, materializer, channel, db, Options{
		RequestTTL:      time.Minute,
		PublishAttempts: 2,
		PublishBackoff:  time.Millisecond,
	}, logger, nil)

	pool := NewSettlementWorkerPool(channel, materializer, 3, 5*time.Millisecond, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()

	return &stack{
		svc:     svc,
		tier:    tier,
		channel: channel,
		reconciler: NewReconciler(svc, ledger, tier, ReconcilerConfig{
			Interval:        time.Minute,
			ReservedTimeout: time.Minute,
			BatchSize:       100,
		}, logger, nil),
		stop: func() {
			cancel()
			<-done
			channel.Close()
		},
	}
}

func buyConcurrently(svc *OrderService, itemID string, buyers int) (reserved, soldOut int32) {
	var ok, exhausted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), domain.OrderIntent{
				RequestID: uuid.NewString(),
				UserID:    fmt.Sprintf("user-%d", n),
				ItemID:    itemID,
				PromoID:   testPromo,
				Amount:    1,
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrStockExhausted):
				exhausted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	return ok.Load(), exhausted.Load()
}

func TestIntegration_FlashSaleFlow(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	db := storage.NewMemoryStore()
	itemID := "integration-item"
	s := newStack(t, client, db, itemID)
	defer s.stop()

	ctx := context.Background()
	_, err := s.svc.InitStock(ctx, itemID, 20)
	require.NoError(t, err)

	reserved, soldOut := buyConcurrently(s.svc, itemID, 50)
	assert.Equal(t, int32(20), reserved)
	assert.Equal(t, int32(30), soldOut)

	require.Eventually(t, func() bool { return db.OrderCount() == 20 }, 3*time.Second, 10*time.Millisecond)

	stock, err := s.tier.Available(ctx, itemID)
	require.NoError(t, err)
	assert.Zero(t, stock.Available)
	assert.True(t, stock.SoldOut)

	inv, err := db.GetInventory(ctx, itemID)
	require.NoError(t, err)
	assert.Zero(t, inv.Quantity)
	assert.Equal(t, int64(20), inv.Sales)
}

func TestIntegration_UnsettledReservationReturnsToStock(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	db := storage.NewMemoryStore()
	itemID := "sweep-item"
	s := newStack(t, client, db, itemID)
	defer s.stop()

	ctx := context.Background()
	_, err := s.svc.InitStock(ctx, itemID, 5)
	require.NoError(t, err)

	// settlement cannot commit, so the reservation stays Reserved
	db.SetFailCommits(true)
	res, err := s.svc.CreateOrder(ctx, domain.OrderIntent{UserID: "u", ItemID: itemID, PromoID: testPromo, Amount: 1})
	require.NoError(t, err)

	left, err := s.svc.GetAvailableStock(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), left)

	s.reconciler.ledger.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	result, err := s.reconciler.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RolledBack)

	left, err = s.svc.GetAvailableStock(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), left)

	got, err := s.svc.GetReservation(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerStatusRolledBack, got.Status)
}

func TestIntegration_LiveRedisAndMySQL(t *testing.T) {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/flashsale?parseTime=true"
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	sqlDB, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	ctx := context.Background()
	require.NoError(t, storage.EnsureSchema(ctx, sqlDB))

	itemID := "live-" + uuid.NewString()[:8]
	defer func() {
		sqlDB.ExecContext(ctx, `DELETE FROM orders WHERE item_id = ?`, itemID)
		sqlDB.ExecContext(ctx, `DELETE FROM stock_ledger WHERE item_id = ?`, itemID)
		sqlDB.ExecContext(ctx, `DELETE FROM inventory WHERE item_id = ?`, itemID)
		client.Del(ctx, "stock:{"+itemID+"}", "stock:{"+itemID+"}:soldout")
	}()

	db := storage.NewMySQLAdapter(sqlDB)
	s := newStack(t, client, db, itemID)
	defer s.stop()

	_, err = s.svc.InitStock(ctx, itemID, 10)
	require.NoError(t, err)

	reserved, _ := buyConcurrently(s.svc, itemID, 20)
	assert.Equal(t, int32(10), reserved)

	require.Eventually(t, func() bool {
		var n int
		sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE item_id = ?`, itemID).Scan(&n)
		return n == 10
	}, 5*time.Second, 50*time.Millisecond)

	inv, err := db.GetInventory(ctx, itemID)
	require.NoError(t, err)
	assert.Zero(t, inv.Quantity)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/adapter/messaging"
	"github.com/rl1809/flash-sale/internal/adapter/storage"
	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/core/service"
	"github.com/rl1809/flash-sale/internal/logger"
)

const (
	itemID  = "flash-sale-item"
	promoID = "stress-promo"
)

// staticCatalog serves one always-open promotion.
type staticCatalog struct {
	promo domain.PromoContext
}

func (c staticCatalog) FindByItem(ctx context.Context, id string) (*domain.PromoContext, error) {
	if id != c.promo.ItemID {
		return nil, nil
	}
	p := c.promo
	return &p, nil
}

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	initialStock := flag.Int64("stock", 20, "initial stock")
	totalRequests := flag.Int("requests", 50, "concurrent purchase requests")
	workers := flag.Int("workers", 4, "settlement workers")
	flag.Parse()

	log := logger.New("flash-sale-stress", "warn")
	defer log.Sync()

	ctx := context.Background()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	// Clear previous test data
	rdb.Del(ctx, "stock:{"+itemID+"}", "stock:{"+itemID+"}:soldout", "promo:item:"+itemID)

	now := time.Now().UTC()
	catalog := staticCatalog{promo: domain.PromoContext{
		ID:      promoID,
		ItemID:  itemID,
		Name:    "stress",
		StartAt: now.Add(-time.Hour),
		EndAt:   now.Add(time.Hour),
		Status:  domain.PromoStatusActive,
		Price:   decimal.NewFromInt(1),
	}}

	store := storage.NewMemoryStore()
	channel := messaging.NewMemoryChannel(*totalRequests)
	defer channel.Close()

	tier := service.NewStockTier(storage.NewRedisAdapter(rdb))
	ledger := service.NewStockLedger(store)
	materializer := service.NewMaterializer(store, ledger, log, nil)
	gate := service.NewPromoGate(tier, catalog, time.Minute, log)
	orderService := service.NewOrderService(tier, gate, ledger, materializer, channel, store, service.Options{}, log, nil)

	if _, err := orderService.InitStock(ctx, itemID, *initialStock); err != nil {
		log.Fatal("Failed to set stock", zap.Error(err))
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	pool := service.NewSettlementWorkerPool(channel, materializer, *workers, 10*time.Millisecond, log)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(workerCtx)
	}()

	// Counters
	var successCount, soldOutCount, errorCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			_, err := orderService.CreateOrder(ctx, domain.OrderIntent{
				UserID:  fmt.Sprintf("user-%d", userID),
				ItemID:  itemID,
				PromoID: promoID,
				Amount:  1,
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrStockExhausted):
				soldOutCount.Add(1)
			default:
				errorCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// let settlement drain
	deadline := time.Now().Add(5 * time.Second)
	for store.OrderCount() < int(successCount.Load()) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stopWorkers()
	<-poolDone

	success := successCount.Load()
	soldOut := soldOutCount.Load()
	expected := min(int64(*totalRequests), *initialStock)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Reserved:         %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Orders Settled:   %d\n", store.OrderCount())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if int64(success) != expected {
		fmt.Printf("FAIL: expected %d reservations, got %d\n", expected, success)
		failed = true
	}
	if store.OrderCount() != int(success) {
		fmt.Printf("FAIL: expected %d settled orders, got %d\n", success, store.OrderCount())
		failed = true
	}

	// Verify final stock in Redis
	stock, err := tier.Available(ctx, itemID)
	if err != nil {
		log.Fatal("Failed to read stock", zap.Error(err))
	}
	fmt.Printf("Final Redis Stock: %d (sold out: %v)\n", stock.Available, stock.SoldOut)
	if stock.Available != *initialStock-expected {
		fmt.Printf("FAIL: expected stock %d, got %d\n", *initialStock-expected, stock.Available)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("PASS: no oversell, every reservation settled")
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/port"
)

// StockTier fronts the cache repository and guarantees that any store error
// other than a miss reaches callers as domain.ErrCacheUnavailable.
type StockTier struct {
	cache port.CacheRepository
}

func NewStockTier(cache port.CacheRepository) *StockTier {
	return &StockTier{cache: cache}
}

func classify(op string, err error) error {
	if err == nil ||
		errors.Is(err, domain.ErrCacheUnavailable) ||
		errors.Is(err, domain.ErrItemNotFound) ||
		errors.Is(err, domain.ErrCacheMiss) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrCacheUnavailable, op, err)
}

// Decrement returns the counter after subtracting amount; negative means overshoot.
func (t *StockTier) Decrement(ctx context.Context, itemID string, amount int64) (int64, error) {
	v, err := t.cache.DecrementAndGet(ctx, itemID, amount)
	return v, classify("decrement", err)
}

func (t *StockTier) Compensate(ctx context.Context, itemID string, amount int64) (int64, error) {
	v, err := t.cache.IncrementBy(ctx, itemID, amount)
	return v, classify("compensate", err)
}

func (t *StockTier) MarkSoldOut(ctx context.Context, itemID string) error {
	return classify("mark sold out", t.cache.MarkSoldOut(ctx, itemID))
}

func (t *StockTier) IsSoldOut(ctx context.Context, itemID string) (bool, error) {
	v, err := t.cache.IsSoldOut(ctx, itemID)
	return v, classify("sold out", err)
}

// Available never reports a negative count: a transient overshoot is
// visible as zero until its compensation lands.
func (t *StockTier) Available(ctx context.Context, itemID string) (domain.ItemStock, error) {
	v, err := t.cache.GetStock(ctx, itemID)
	if err != nil {
		return domain.ItemStock{}, classify("get stock", err)
	}
	soldOut, err := t.IsSoldOut(ctx, itemID)
	if err != nil {
		return domain.ItemStock{}, err
	}
	return domain.ItemStock{ItemID: itemID, Available: max(v, 0), SoldOut: soldOut}, nil
}

func (t *StockTier) Warm(ctx context.Context, itemID string, quantity int64) (bool, error) {
	ok, err := t.cache.WarmStock(ctx, itemID, quantity)
	return ok, classify("warm", err)
}

func (t *StockTier) Restock(ctx context.Context, itemID string, amount int64) (int64, error) {
	v, err := t.cache.Restock(ctx, itemID, amount)
	return v, classify("restock", err)
}

func (t *StockTier) Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := t.cache.SetIfAbsent(ctx, key, value, ttl)
	return ok, classify("claim", err)
}

// Release drops a claim, but only while it still holds value.
func (t *StockTier) Release(ctx context.Context, key, value string) error {
	_, err := t.cache.DeleteIfEquals(ctx, key, value)
	return classify("release", err)
}

func (t *StockTier) GetString(ctx context.Context, key string) (string, error) {
	b, err := t.cache.GetCached(ctx, key)
	if err != nil {
		return "", classify("get", err)
	}
	return string(b), nil
}

// GetJSON decodes a cached value into v. It returns domain.ErrCacheMiss when
// the key is absent.
func (t *StockTier) GetJSON(ctx context.Context, key string, v any) error {
	b, err := t.cache.GetCached(ctx, key)
	if err != nil {
		return classify("get", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

func (t *StockTier) PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	return classify("put", t.cache.PutCached(ctx, key, b, ttl))
}

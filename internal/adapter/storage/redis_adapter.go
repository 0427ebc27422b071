package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

// Both keys of an item share a hash tag so the restock script stays on one
// cluster slot.
const (
	stockKeyFormat   = "stock:{%s}"
	soldOutKeyFormat = "stock:{%s}:soldout"
)

// A missing counter is reported as nil rather than created at -amount, so a
// later warm-up can still seed it.
var decrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
return redis.call('DECRBY', KEYS[1], ARGV[1])
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var restockScript = redis.NewScript(`
local stock = redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return stock
`)

type RedisAdapter struct {
	client redis.UniversalClient
}

func NewRedisAdapter(client redis.UniversalClient) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func stockKey(itemID string) string   { return fmt.Sprintf(stockKeyFormat, itemID) }
func soldOutKey(itemID string) string { return fmt.Sprintf(soldOutKeyFormat, itemID) }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrCacheUnavailable, op, err)
}

func (r *RedisAdapter) DecrementAndGet(ctx context.Context, itemID string, amount int64) (int64, error) {
	v, err := decrementScript.Run(ctx, r.client, []string{stockKey(itemID)}, amount).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: no stock counter for %s", domain.ErrItemNotFound, itemID)
	}
	if err != nil {
		return 0, unavailable("decrement", err)
	}
	return v, nil
}

func (r *RedisAdapter) IncrementBy(ctx context.Context, itemID string, amount int64) (int64, error) {
	v, err := r.client.IncrBy(ctx, stockKey(itemID), amount).Result()
	if err != nil {
		return 0, unavailable("incrby", err)
	}
	return v, nil
}

func (r *RedisAdapter) MarkSoldOut(ctx context.Context, itemID string) error {
	if err := r.client.Set(ctx, soldOutKey(itemID), "1", 0).Err(); err != nil {
		return unavailable("mark sold out", err)
	}
	return nil
}

func (r *RedisAdapter) IsSoldOut(ctx context.Context, itemID string) (bool, error) {
	n, err := r.client.Exists(ctx, soldOutKey(itemID)).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n == 1, nil
}

func (r *RedisAdapter) GetStock(ctx context.Context, itemID string) (int64, error) {
	v, err := r.client.Get(ctx, stockKey(itemID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrItemNotFound
	}
	if err != nil {
		return 0, unavailable("get stock", err)
	}
	return v, nil
}

func (r *RedisAdapter) SetStock(ctx context.Context, itemID string, quantity int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stockKey(itemID), quantity, 0)
		pipe.Del(ctx, soldOutKey(itemID))
		return nil
	})
	if err != nil {
		return unavailable("set stock", err)
	}
	return nil
}

func (r *RedisAdapter) WarmStock(ctx context.Context, itemID string, quantity int64) (bool, error) {
	ok, err := r.client.SetNX(ctx, stockKey(itemID), quantity, 0).Result()
	if err != nil {
		return false, unavailable("warm stock", err)
	}
	return ok, nil
}

func (r *RedisAdapter) Restock(ctx context.Context, itemID string, amount int64) (int64, error) {
	keys := []string{stockKey(itemID), soldOutKey(itemID)}
	v, err := restockScript.Run(ctx, r.client, keys, amount).Int64()
	if err != nil {
		return 0, unavailable("restock", err)
	}
	return v, nil
}

func (r *RedisAdapter) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}

	return ok, nil
}

func (r *RedisAdapter) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, value).Int64()
	if err != nil {
		return false, unavailable("release", err)
	}
	return n == 1, nil
}

func (r *RedisAdapter) GetCached(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return b, nil
}

func (r *RedisAdapter) PutCached(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

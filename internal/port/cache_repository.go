package port

import (
	"context"
	"time"
)

// CacheRepository is the fast volatile store that owns the live stock
// counters. Implementations report store failures wrapped in
// domain.ErrCacheUnavailable.
type CacheRepository interface {
	// DecrementAndGet atomically subtracts amount and returns the new value, which may be negative.
	// A counter that does not exist is left absent and reported as domain.ErrItemNotFound.
	DecrementAndGet(ctx context.Context, itemID string, amount int64) (int64, error)

	// IncrementBy atomically adds amount (compensation) and returns the new value
	IncrementBy(ctx context.Context, itemID string, amount int64) (int64, error)

	// MarkSoldOut sets the sold-out flag; setting it twice is a no-op
	MarkSoldOut(ctx context.Context, itemID string) error

	IsSoldOut(ctx context.Context, itemID string) (bool, error)

	// GetStock returns domain.ErrItemNotFound when the counter does not exist
	GetStock(ctx context.Context, itemID string) (int64, error)

	// SetStock overwrites the counter and clears the sold-out flag
	SetStock(ctx context.Context, itemID string, quantity int64) error

	// WarmStock sets the counter only if it does not exist yet
	WarmStock(ctx context.Context, itemID string, quantity int64) (bool, error)

	// Restock adds amount and clears the sold-out flag in one step
	Restock(ctx context.Context, itemID string, amount int64) (int64, error)

	// SetIfAbsent sets a key for idempotency checks, returns false if it already exists
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// DeleteIfEquals removes key only while it still holds value
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)

	// GetCached returns domain.ErrCacheMiss when the key is absent
	GetCached(ctx context.Context, key string) ([]byte, error)

	PutCached(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

package domain

import "errors"

var (
	ErrValidation          = errors.New("validation failed")
	ErrStockExhausted      = errors.New("stock exhausted")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrCacheUnavailable    = errors.New("cache unavailable")
	ErrPersistence         = errors.New("persistence failure")
	ErrPublish             = errors.New("settlement publish failure")
	ErrIllegalTransition   = errors.New("illegal ledger transition")
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrOptimisticLock      = errors.New("optimistic lock conflict")
	ErrCacheMiss           = errors.New("cache miss")
)

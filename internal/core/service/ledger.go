package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/port"
)

// StockLedger records every reservation attempt and moves it through its
// lifecycle with compare-and-set updates, so concurrent writers resolve to a
// single winner.
type StockLedger struct {
	repo port.LedgerRepository
	now  func() time.Time
}

func NewStockLedger(repo port.LedgerRepository) *StockLedger {
	return &StockLedger{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewToken returns a fresh 32-char hex token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Begin records a new entry under a fresh token.
func (l *StockLedger) Begin(ctx context.Context, intent domain.OrderIntent, status domain.LedgerStatus) (string, error) {
	token := NewToken()
	if err := l.Record(ctx, token, intent, status); err != nil {
		return "", err
	}
	return token, nil
}

// Record inserts an entry under a caller-chosen token. Only Initiated and
// Failed are valid starting statuses.
func (l *StockLedger) Record(ctx context.Context, token string, intent domain.OrderIntent, status domain.LedgerStatus) error {
	if status != domain.LedgerStatusInitiated && status != domain.LedgerStatusFailed {
		return fmt.Errorf("%w: entry cannot start as %s", domain.ErrIllegalTransition, status)
	}

	now := l.now()
	err := l.repo.InsertLedgerEntry(ctx, domain.StockLedgerEntry{
		Token:     token,
		ItemID:    intent.ItemID,
		PromoID:   intent.PromoID,
		UserID:    intent.UserID,
		Amount:    intent.Amount,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Transition moves the entry into to from its only legal predecessor. A
// rejected transition never overwrites; the error names the current status.
func (l *StockLedger) Transition(ctx context.Context, token string, to domain.LedgerStatus) error {
	from, ok := domain.Predecessor(to)
	if !ok {
		return fmt.Errorf("%w: no transition into %s", domain.ErrIllegalTransition, to)
	}

	switched, err := l.repo.UpdateLedgerStatus(ctx, token, from, to)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if switched {
		return nil
	}

	entry, err := l.Lookup(ctx, token)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, cannot become %s", domain.ErrIllegalTransition, token, entry.Status, to)
}

func (l *StockLedger) Lookup(ctx context.Context, token string) (*domain.StockLedgerEntry, error) {
	entry, err := l.repo.GetLedgerEntry(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrLedgerEntryNotFound, token)
	}
	return entry, nil
}

// Stale lists entries in status that have not changed for olderThan.
func (l *StockLedger) Stale(ctx context.Context, status domain.LedgerStatus, olderThan time.Duration, limit int) ([]domain.StockLedgerEntry, error) {
	entries, err := l.repo.ListLedgerEntries(ctx, status, l.now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return entries, nil
}

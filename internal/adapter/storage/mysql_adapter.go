package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

const errDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}

func (m *MySQLAdapter) InsertLedgerEntry(ctx context.Context, entry domain.StockLedgerEntry) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_ledger (token, item_id, promo_id, user_id, amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Token, entry.ItemID, entry.PromoID, entry.UserID, entry.Amount, entry.Status,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return fmt.Errorf("insert ledger entry %s: %w", entry.Token, domain.ErrDuplicateRequest)
	}
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetLedgerEntry(ctx context.Context, token string) (*domain.StockLedgerEntry, error) {
	var e domain.StockLedgerEntry
	err := m.db.QueryRowContext(ctx, `
		SELECT token, item_id, promo_id, user_id, amount, status, created_at, updated_at
		FROM stock_ledger WHERE token = ?`, token,
	).Scan(&e.Token, &e.ItemID, &e.PromoID, &e.UserID, &e.Amount, &e.Status, &e.CreatedAt, &e.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger entry: %w", err)
	}
	return &e, nil
}

func (m *MySQLAdapter) UpdateLedgerStatus(ctx context.Context, token string, from, to domain.LedgerStatus) (bool, error) {
	return updateLedgerStatus(ctx, m.db, token, from, to)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateLedgerStatus(ctx context.Context, db execer, token string, from, to domain.LedgerStatus) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE stock_ledger
		SET status = ?, updated_at = ?
		WHERE token = ? AND status = ?`,
		to, time.Now().UTC(), token, from,
	)
	if err != nil {
		return false, fmt.Errorf("update ledger status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update ledger status: %w", err)
	}
	return rows == 1, nil
}

func (m *MySQLAdapter) ListLedgerEntries(ctx context.Context, status domain.LedgerStatus, updatedBefore time.Time, limit int) ([]domain.StockLedgerEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT token, item_id, promo_id, user_id, amount, status, created_at, updated_at
		FROM stock_ledger
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?`, status, updatedBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.StockLedgerEntry
	for rows.Next() {
		var e domain.StockLedgerEntry
		if err := rows.Scan(&e.Token, &e.ItemID, &e.PromoID, &e.UserID, &e.Amount, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (m *MySQLAdapter) CommitSettlement(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, ledger_token, item_id, promo_id, user_id, quantity, item_price, order_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.Token, order.ItemID, order.PromoID, order.UserID, order.Amount,
		order.ItemPrice, order.OrderPrice, order.Status, order.CreatedAt, order.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return fmt.Errorf("insert order for %s: %w", order.Token, domain.ErrDuplicateRequest)
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	ok, err := updateLedgerStatus(ctx, tx, order.Token, domain.LedgerStatusReserved, domain.LedgerStatusCommitted)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("commit ledger entry %s: %w", order.Token, domain.ErrIllegalTransition)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET stock = stock - ?, sales = sales + ?, version = version + 1, updated_at = NOW(6)
		WHERE item_id = ? AND stock >= ?`,
		order.Amount, order.Amount, order.ItemID, order.Amount,
	)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrOptimisticLock
	}

	return tx.Commit()
}

func (m *MySQLAdapter) GetOrderByToken(ctx context.Context, token string) (*domain.Order, error) {
	var o domain.Order
	err := m.db.QueryRowContext(ctx, `
		SELECT id, ledger_token, item_id, promo_id, user_id, quantity, item_price, order_price, status, created_at, updated_at
		FROM orders WHERE ledger_token = ?`, token,
	).Scan(&o.ID, &o.Token, &o.ItemID, &o.PromoID, &o.UserID, &o.Amount,
		&o.ItemPrice, &o.OrderPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

func (m *MySQLAdapter) GetInventory(ctx context.Context, itemID string) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := m.db.QueryRowContext(ctx, `
		SELECT item_id, stock, sales, version, created_at, updated_at
		FROM inventory WHERE item_id = ?`, itemID,
	).Scan(&inv.ItemID, &inv.Quantity, &inv.Sales, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	return &inv, nil
}

func (m *MySQLAdapter) InsertInventory(ctx context.Context, inv domain.Inventory) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO inventory (item_id, stock, sales, version)
		VALUES (?, ?, 0, 0)`,
		inv.ItemID, inv.Quantity,
	)
	if err != nil {
		return false, fmt.Errorf("insert inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (m *MySQLAdapter) UpdateInventory(ctx context.Context, inv domain.Inventory) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory
		SET stock = ?, version = version + 1, updated_at = NOW(6)
		WHERE item_id = ? AND version = ?`,
		inv.Quantity, inv.ItemID, inv.Version,
	)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrOptimisticLock
	}

	return nil
}

// Ping reports whether the database is reachable.
func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

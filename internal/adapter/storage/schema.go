package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		item_id    VARCHAR(64) NOT NULL PRIMARY KEY,
		stock      BIGINT      NOT NULL DEFAULT 0,
		sales      BIGINT      NOT NULL DEFAULT 0,
		version    INT         NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_ledger (
		token      VARCHAR(64) NOT NULL PRIMARY KEY,
		item_id    VARCHAR(64) NOT NULL,
		promo_id   VARCHAR(64) NOT NULL DEFAULT '',
		user_id    VARCHAR(64) NOT NULL,
		amount     BIGINT      NOT NULL,
		status     VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_stock_ledger_status_updated (status, updated_at)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id           VARCHAR(64)    NOT NULL PRIMARY KEY,
		ledger_token VARCHAR(64)    NOT NULL,
		item_id      VARCHAR(64)    NOT NULL,
		promo_id     VARCHAR(64)    NOT NULL DEFAULT '',
		user_id      VARCHAR(64)    NOT NULL,
		quantity     BIGINT         NOT NULL,
		item_price   DECIMAL(12, 2) NOT NULL,
		order_price  DECIMAL(12, 2) NOT NULL,
		status       VARCHAR(16)    NOT NULL,
		created_at   DATETIME(6)    NOT NULL,
		updated_at   DATETIME(6)    NOT NULL,
		UNIQUE KEY uk_orders_ledger_token (ledger_token)
	)`,
}

// EnsureSchema creates the tables the MySQL adapter needs.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Package mysql stores the stock ledger and recipe catalog in MySQL through database/sql.
// Stock rows carry a version; ApplyDeductionPlan updates them with a compare-and-swap
// on that version and reports ErrConflict when another writer got there first.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS stock_items (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		unit VARCHAR(32) NOT NULL DEFAULT '',
		current_quantity DECIMAL(20,6) NOT NULL,
		min_quantity DECIMAL(20,6) NOT NULL,
		unit_cost DECIMAL(20,6) NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_stock_items_tenant (tenant_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		order_id VARCHAR(128) NOT NULL,
		stock_item_id VARCHAR(64) NOT NULL,
		quantity_delta DECIMAL(20,6) NOT NULL,
		reason VARCHAR(255) NOT NULL DEFAULT '',
		cost_at_time DECIMAL(20,6) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_movement_order_item (tenant_id, order_id, stock_item_id),
		INDEX idx_movements_item (stock_item_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS recipes (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		tenant_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL DEFAULT '',
		component_key VARCHAR(64) NOT NULL,
		yield DECIMAL(20,6) NOT NULL,
		UNIQUE KEY uq_recipes_component_key (component_key)
	)`,
	`CREATE TABLE IF NOT EXISTS recipe_components (
		recipe_id VARCHAR(64) NOT NULL,
		position INT NOT NULL,
		component_id VARCHAR(64) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		quantity_per_yield DECIMAL(20,6) NOT NULL,
		PRIMARY KEY (recipe_id, position)
	)`,
}

// Open connects with parseTime forced on and creates missing tables.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", mapError(err))
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: migrate: %w", err)
		}
	}
	return nil
}

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysqldrv.MySQLError
	switch {
	case errors.Is(err, inventory.ErrTenantScopeViolation),
		errors.Is(err, inventory.ErrNotFound),
		errors.Is(err, inventory.ErrConflict),
		errors.Is(err, inventory.ErrTransientStorage):
		return err
	case errors.As(err, &myErr):
		switch myErr.Number {
		case errDuplicateEntry, errLockWaitTimeout, errDeadlock:
			return fmt.Errorf("%w: %w", inventory.ErrConflict, err)
		}
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysqldrv.ErrInvalidConn),
		errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %w", inventory.ErrTransientStorage, err)
	}
	return err
}

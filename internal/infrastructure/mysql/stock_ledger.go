package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
)

type StockLedger struct {
	db    *sql.DB
	newID func() string
	now   func() time.Time
}

func NewStockLedger(db *sql.DB) *StockLedger {
	return &StockLedger{
		db:    db,
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

const stockColumns = `id, tenant_id, name, unit, current_quantity, min_quantity, unit_cost, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockItem(s rowScanner) (*domain.StockItem, error) {
	var item domain.StockItem
	if err := s.Scan(&item.ID, &item.TenantID, &item.Name, &item.Unit,
		&item.CurrentQuantity, &item.MinQuantity, &item.UnitCost, &item.Version, &item.UpdatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

// PutStockItem upserts an item. Moving an id to another tenant is refused.
func (l *StockLedger) PutStockItem(ctx context.Context, item *domain.StockItem) error {
	if item == nil || item.ID == "" || item.TenantID == "" {
		return fmt.Errorf("stock ledger: id and tenant are required")
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT tenant_id FROM stock_items WHERE id = ? FOR UPDATE`, item.ID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_items (`+stockColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.TenantID, item.Name, item.Unit,
			item.CurrentQuantity, item.MinQuantity, item.UnitCost, item.Version, l.now(),
		)
	case err != nil:
	case owner != item.TenantID:
		return fmt.Errorf("stock ledger: item %s: %w", item.ID, domain.ErrTenantScopeViolation)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_items
			SET name = ?, unit = ?, current_quantity = ?, min_quantity = ?, unit_cost = ?,
			    version = version + 1, updated_at = ?
			WHERE id = ?`,
			item.Name, item.Unit, item.CurrentQuantity, item.MinQuantity, item.UnitCost, l.now(), item.ID,
		)
	}
	if err != nil {
		return mapError(fmt.Errorf("upsert stock item: %w", err))
	}
	return mapError(tx.Commit())
}

func (l *StockLedger) GetStockItem(ctx context.Context, tenantID, id string) (*domain.StockItem, error) {
	item, err := scanStockItem(l.db.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("query stock item: %w", err))
	}
	if item.TenantID != tenantID {
		return nil, fmt.Errorf("stock item %s requested by tenant %s: %w", id, tenantID, domain.ErrTenantScopeViolation)
	}
	return item, nil
}

func (l *StockLedger) ApplyDeductionPlan(ctx context.Context, plan domain.DeductionPlan) (*domain.ApplyOutcome, error) {
	if plan.TenantID == "" || plan.OrderID == "" {
		return nil, &domain.ValidationError{Field: "plan", Reason: "tenant and order are required"}
	}
	plan.Normalize()
	out, err := l.apply(ctx, plan)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (l *StockLedger) apply(ctx context.Context, plan domain.DeductionPlan) (*domain.ApplyOutcome, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Lock first: the order check below then runs after any concurrent apply of
	// the same rows has committed, and sees its movements.
	items, err := l.loadItems(ctx, tx, plan.Entries)
	if err != nil {
		return nil, err
	}

	var seen int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stock_movements WHERE tenant_id = ? AND order_id = ?`,
		plan.TenantID, plan.OrderID,
	).Scan(&seen); err != nil {
		return nil, fmt.Errorf("check order: %w", err)
	}
	if seen > 0 {
		return &domain.ApplyOutcome{AlreadyApplied: true}, nil
	}

	outcome := &domain.ApplyOutcome{}
	type target struct {
		item *domain.StockItem
		qty  domain.PlanEntry
	}
	targets := make([]target, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		item, ok := items[e.StockItemID]
		if !ok {
			outcome.Missing = append(outcome.Missing, e.StockItemID)
			continue
		}
		if item.TenantID != plan.TenantID {
			return nil, fmt.Errorf("stock item %s in plan of tenant %s: %w", item.ID, plan.TenantID, domain.ErrTenantScopeViolation)
		}
		targets = append(targets, target{item: item, qty: e})
	}
	if len(targets) == 0 {
		return outcome, nil
	}

	at := l.now()
	for _, t := range targets {
		prev := t.item.Version
		t.item.Deduct(t.qty.Quantity)
		result, err := tx.ExecContext(ctx, `
			UPDATE stock_items
			SET current_quantity = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			t.item.CurrentQuantity, t.item.Version, at, t.item.ID, prev,
		)
		if err != nil {
			return nil, fmt.Errorf("update stock item: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return nil, fmt.Errorf("stock item %s: %w", t.item.ID, domain.ErrConflict)
		}

		m := domain.NewConsumption(l.newID(), t.item, t.qty.Quantity, plan.OrderID, plan.Reason, at)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, tenant_id, order_id, stock_item_id, quantity_delta, reason, cost_at_time, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.TenantID, m.OrderID, m.StockItemID, m.QuantityDelta, m.Reason, m.CostAtTime, m.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("insert movement: %w", err)
		}
		if t.item.BelowThreshold() {
			outcome.BelowThreshold = append(outcome.BelowThreshold, *t.item)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	outcome.Applied = len(targets)
	return outcome, nil
}

func (l *StockLedger) loadItems(ctx context.Context, tx *sql.Tx, entries []domain.PlanEntry) (map[string]*domain.StockItem, error) {
	items := make(map[string]*domain.StockItem, len(entries))
	if len(entries) == 0 {
		return items, nil
	}
	args := make([]any, 0, len(entries))
	for _, e := range entries {
		args = append(args, e.StockItemID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := tx.QueryContext(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE id IN (`+placeholders+`) ORDER BY id FOR UPDATE`, args...)
	if err != nil {
		return nil, fmt.Errorf("load stock items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		items[item.ID] = item
	}
	return items, rows.Err()
}

func (l *StockLedger) ListBelowThreshold(ctx context.Context, tenantID string) ([]domain.StockItem, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE tenant_id = ? AND current_quantity < min_quantity ORDER BY id`, tenantID)
	if err != nil {
		return nil, mapError(fmt.Errorf("query low stock: %w", err))
	}
	defer rows.Close()

	var out []domain.StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, mapError(fmt.Errorf("scan stock item: %w", err))
		}
		out = append(out, *item)
	}
	return out, mapError(rows.Err())
}

func (l *StockLedger) ListMovements(ctx context.Context, tenantID, stockItemID string) ([]domain.StockMovement, error) {
	if _, err := l.GetStockItem(ctx, tenantID, stockItemID); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, tenant_id, stock_item_id, quantity_delta, reason, order_id, cost_at_time, created_at
		FROM stock_movements WHERE tenant_id = ? AND stock_item_id = ?
		ORDER BY created_at, id`, tenantID, stockItemID)
	if err != nil {
		return nil, mapError(fmt.Errorf("query movements: %w", err))
	}
	defer rows.Close()

	var out []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.StockItemID, &m.QuantityDelta, &m.Reason, &m.OrderID, &m.CostAtTime, &m.Timestamp); err != nil {
			return nil, mapError(fmt.Errorf("scan movement: %w", err))
		}
		out = append(out, m)
	}
	return out, mapError(rows.Err())
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
)

type StockLedger struct {
	db    *gorm.DB
	newID func() string
	now   func() time.Time
}

func NewStockLedger(db *gorm.DB) *StockLedger {
	return &StockLedger{
		db:    db,
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// PutStockItem upserts an item. Moving an id to another tenant is refused.
func (l *StockLedger) PutStockItem(ctx context.Context, item *domain.StockItem) error {
	if item == nil || item.ID == "" || item.TenantID == "" {
		return fmt.Errorf("stock ledger: id and tenant are required")
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing stockItemModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", item.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			m := stockItemFromDomain(item)
			m.UpdatedAt = l.now()
			return tx.Create(&m).Error
		case err != nil:
			return err
		case existing.TenantID != item.TenantID:
			return fmt.Errorf("stock ledger: item %s: %w", item.ID, domain.ErrTenantScopeViolation)
		}
		return tx.Model(&stockItemModel{}).Where("id = ?", item.ID).Updates(map[string]any{
			"name":             item.Name,
			"unit":             item.Unit,
			"current_quantity": item.CurrentQuantity,
			"min_quantity":     item.MinQuantity,
			"unit_cost":        item.UnitCost,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       l.now(),
		}).Error
	})
	return mapError(err)
}

func (l *StockLedger) GetStockItem(ctx context.Context, tenantID, id string) (*domain.StockItem, error) {
	var m stockItemModel
	err := l.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	if m.TenantID != tenantID {
		return nil, fmt.Errorf("stock item %s requested by tenant %s: %w", id, tenantID, domain.ErrTenantScopeViolation)
	}
	return m.toDomain(), nil
}

func (l *StockLedger) ApplyDeductionPlan(ctx context.Context, plan domain.DeductionPlan) (*domain.ApplyOutcome, error) {
	if plan.TenantID == "" || plan.OrderID == "" {
		return nil, &domain.ValidationError{Field: "plan", Reason: "tenant and order are required"}
	}
	plan.Normalize()
	ids := make([]string, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		ids = append(ids, e.StockItemID)
	}

	var outcome *domain.ApplyOutcome
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		outcome = &domain.ApplyOutcome{}

		// lock first so a concurrent delivery of the same order waits here
		var rows []stockItemModel
		if len(ids) > 0 {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id IN ?", ids).Order("id").Find(&rows).Error; err != nil {
				return err
			}
		}

		var seen int64
		if err := tx.Model(&movementModel{}).
			Where("tenant_id = ? AND order_id = ?", plan.TenantID, plan.OrderID).
			Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			outcome.AlreadyApplied = true
			return nil
		}

		byID := make(map[string]stockItemModel, len(rows))
		for _, r := range rows {
			byID[r.ID] = r
		}
		type target struct {
			item *domain.StockItem
			qty  domain.PlanEntry
		}
		targets := make([]target, 0, len(plan.Entries))
		for _, e := range plan.Entries {
			row, ok := byID[e.StockItemID]
			if !ok {
				outcome.Missing = append(outcome.Missing, e.StockItemID)
				continue
			}
			if row.TenantID != plan.TenantID {
				return fmt.Errorf("stock item %s in plan of tenant %s: %w", row.ID, plan.TenantID, domain.ErrTenantScopeViolation)
			}
			targets = append(targets, target{item: row.toDomain(), qty: e})
		}
		if len(targets) == 0 {
			return nil
		}

		at := l.now()
		movements := make([]movementModel, 0, len(targets))
		for _, t := range targets {
			prev := t.item.Version
			t.item.Deduct(t.qty.Quantity)
			res := tx.Model(&stockItemModel{}).
				Where("id = ? AND version = ?", t.item.ID, prev).
				Updates(map[string]any{
					"current_quantity": t.item.CurrentQuantity,
					"version":          t.item.Version,
					"updated_at":       at,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("stock item %s: %w", t.item.ID, domain.ErrConflict)
			}
			movements = append(movements, movementFromDomain(
				domain.NewConsumption(l.newID(), t.item, t.qty.Quantity, plan.OrderID, plan.Reason, at)))
			if t.item.BelowThreshold() {
				outcome.BelowThreshold = append(outcome.BelowThreshold, *t.item)
			}
		}
		if err := tx.Create(&movements).Error; err != nil {
			return err
		}
		outcome.Applied = len(targets)
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return outcome, nil
}

func (l *StockLedger) ListBelowThreshold(ctx context.Context, tenantID string) ([]domain.StockItem, error) {
	var rows []stockItemModel
	if err := l.db.WithContext(ctx).
		Where("tenant_id = ? AND current_quantity < min_quantity", tenantID).
		Order("id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.StockItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toDomain())
	}
	return out, nil
}

func (l *StockLedger) ListMovements(ctx context.Context, tenantID, stockItemID string) ([]domain.StockMovement, error) {
	if _, err := l.GetStockItem(ctx, tenantID, stockItemID); err != nil {
		return nil, err
	}
	var rows []movementModel
	if err := l.db.WithContext(ctx).
		Where("tenant_id = ? AND stock_item_id = ?", tenantID, stockItemID).
		Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.StockMovement, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

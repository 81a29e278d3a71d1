package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
)

// StockLedger keeps stock items and movements in process memory. ApplyDeductionPlan
// holds the write lock for the whole plan, which makes it atomic and serialises
// overlapping orders.
type StockLedger struct {
	mu        sync.RWMutex
	items     map[string]*domain.StockItem
	movements []domain.StockMovement
	orders    map[orderKey]struct{}
	newID     func() string
	now       func() time.Time
}

type orderKey struct{ tenantID, orderID string }

func NewStockLedger() *StockLedger {
	return &StockLedger{
		items:  make(map[string]*domain.StockItem),
		orders: make(map[orderKey]struct{}),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// PutStockItem creates or replaces an item. It stands in for the external inventory management.
func (l *StockLedger) PutStockItem(ctx context.Context, item *domain.StockItem) error {
	_ = ctx
	if item == nil || item.ID == "" || item.TenantID == "" {
		return fmt.Errorf("stock ledger: id and tenant are required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.items[item.ID]; ok && existing.TenantID != item.TenantID {
		return fmt.Errorf("stock ledger: item %s: %w", item.ID, domain.ErrTenantScopeViolation)
	}
	l.items[item.ID] = item.Clone()
	return nil
}

func (l *StockLedger) GetStockItem(ctx context.Context, tenantID, id string) (*domain.StockItem, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	item, err := l.scoped(tenantID, id)
	if err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

func (l *StockLedger) ApplyDeductionPlan(ctx context.Context, plan domain.DeductionPlan) (*domain.ApplyOutcome, error) {
	if plan.TenantID == "" || plan.OrderID == "" {
		return nil, &domain.ValidationError{Field: "plan", Reason: "tenant and order are required"}
	}
	plan.Normalize()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("stock ledger: %w: %w", domain.ErrTransientStorage, err)
	}

	key := orderKey{tenantID: plan.TenantID, orderID: plan.OrderID}
	if _, done := l.orders[key]; done {
		return &domain.ApplyOutcome{AlreadyApplied: true}, nil
	}

	// validate every entry before touching anything
	outcome := &domain.ApplyOutcome{}
	targets := make([]*domain.StockItem, 0, len(plan.Entries))
	quantities := make([]domain.PlanEntry, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		item, err := l.scoped(plan.TenantID, e.StockItemID)
		switch {
		case err == nil:
			targets = append(targets, item)
			quantities = append(quantities, e)
		case errors.Is(err, domain.ErrNotFound):
			outcome.Missing = append(outcome.Missing, e.StockItemID)
		default:
			return nil, err
		}
	}

	at := l.now()
	for i, item := range targets {
		item.Deduct(quantities[i].Quantity)
		l.movements = append(l.movements,
			domain.NewConsumption(l.newID(), item, quantities[i].Quantity, plan.OrderID, plan.Reason, at))
		if item.BelowThreshold() {
			outcome.BelowThreshold = append(outcome.BelowThreshold, *item.Clone())
		}
	}
	if len(targets) > 0 {
		l.orders[key] = struct{}{}
	}
	outcome.Applied = len(targets)
	return outcome, nil
}

func (l *StockLedger) ListBelowThreshold(ctx context.Context, tenantID string) ([]domain.StockItem, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.StockItem
	for _, item := range l.items {
		if item.TenantID == tenantID && item.BelowThreshold() {
			out = append(out, *item.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (l *StockLedger) ListMovements(ctx context.Context, tenantID, stockItemID string) ([]domain.StockMovement, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, err := l.scoped(tenantID, stockItemID); err != nil {
		return nil, err
	}
	var out []domain.StockMovement
	for _, m := range l.movements {
		if m.TenantID == tenantID && m.StockItemID == stockItemID {
			out = append(out, m)
		}
	}
	return out, nil
}

// scoped must be called with the lock held.
func (l *StockLedger) scoped(tenantID, id string) (*domain.StockItem, error) {
	item, ok := l.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if item.TenantID != tenantID {
		return nil, fmt.Errorf("stock item %s requested by tenant %s: %w", id, tenantID, domain.ErrTenantScopeViolation)
	}
	return item, nil
}

package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// PlanEntry is one merged deduction against a single stock item.
type PlanEntry struct {
	StockItemID string
	Quantity    decimal.Decimal
}

// DeductionPlan is everything one order consumes, applied all-or-nothing.
type DeductionPlan struct {
	TenantID string
	OrderID  string
	Reason   string
	Entries  []PlanEntry
}

// QuantityScale is the number of decimal places every store persists for
// quantities and costs.
const QuantityScale = 6

// Normalize merges duplicate stock items, rounds each total to QuantityScale and
// orders entries by id so every store locks rows in the same order. Totals that
// round to zero are dropped. Normalize is idempotent.
func (p *DeductionPlan) Normalize() {
	merged := make(map[string]decimal.Decimal, len(p.Entries))
	for _, e := range p.Entries {
		merged[e.StockItemID] = merged[e.StockItemID].Add(e.Quantity)
	}
	entries := make([]PlanEntry, 0, len(merged))
	for id, qty := range merged {
		qty = qty.Round(QuantityScale)
		if qty.IsZero() {
			continue
		}
		entries = append(entries, PlanEntry{StockItemID: id, Quantity: qty})
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].StockItemID < entries[b].StockItemID })
	p.Entries = entries
}

// ApplyOutcome reports what an atomic apply actually did.
type ApplyOutcome struct {
	Applied        int
	AlreadyApplied bool
	// Missing lists plan entries whose stock record vanished between resolution and apply.
	Missing        []string
	BelowThreshold []StockItem
}

// Ledger is the tenant-scoped stock store. ApplyDeductionPlan is its only mutating entry point.
type Ledger interface {
	GetStockItem(ctx context.Context, tenantID, id string) (*StockItem, error)
	ApplyDeductionPlan(ctx context.Context, plan DeductionPlan) (*ApplyOutcome, error)
	ListBelowThreshold(ctx context.Context, tenantID string) ([]StockItem, error)
	ListMovements(ctx context.Context, tenantID, stockItemID string) ([]StockMovement, error)
}

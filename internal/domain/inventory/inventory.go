package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockItem is an elementary, directly tracked inventory unit of one tenant.
// CurrentQuantity may go negative: a stock-out is recorded, never refused.
type StockItem struct {
	ID              string
	TenantID        string
	Name            string
	Unit            string
	CurrentQuantity decimal.Decimal
	MinQuantity     decimal.Decimal
	UnitCost        decimal.Decimal
	Version         int64
	UpdatedAt       time.Time
}

// BelowThreshold reports whether the item should be signalled as low stock.
func (i *StockItem) BelowThreshold() bool {
	return i.CurrentQuantity.LessThan(i.MinQuantity)
}

// Deduct lowers the current quantity without clamping at zero.
func (i *StockItem) Deduct(quantity decimal.Decimal) {
	i.CurrentQuantity = i.CurrentQuantity.Sub(quantity)
	i.Version++
	i.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy safe to hand out of a store.
func (i *StockItem) Clone() *StockItem {
	if i == nil {
		return nil
	}
	clone := *i
	return &clone
}

// StockMovement is the immutable audit record of one applied quantity change.
type StockMovement struct {
	ID            string
	TenantID      string
	StockItemID   string
	QuantityDelta decimal.Decimal
	Reason        string
	OrderID       string
	CostAtTime    decimal.Decimal
	Timestamp     time.Time
}

// NewConsumption builds the movement recorded when quantity of item is consumed by an order.
func NewConsumption(id string, item *StockItem, quantity decimal.Decimal, orderID, reason string, at time.Time) StockMovement {
	return StockMovement{
		ID:            id,
		TenantID:      item.TenantID,
		StockItemID:   item.ID,
		QuantityDelta: quantity.Neg(),
		Reason:        reason,
		OrderID:       orderID,
		CostAtTime:    item.UnitCost,
		Timestamp:     at.UTC(),
	}
}

// OrderReason is the movement reason recorded for order consumption.
func OrderReason(orderID string) string {
	return "order " + orderID
}

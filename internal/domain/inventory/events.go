package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	FailureReasonValidation    = "validation"
	FailureReasonDataIntegrity = "data_integrity"
	FailureReasonTenantScope   = "tenant_scope"
	FailureReasonTransient     = "transient_storage"
)

// StockDeductedEvent is emitted once an order's deduction plan has been applied.
type StockDeductedEvent struct {
	OrderID      string
	TenantID     string
	AppliedCount int
	Duplicate    bool
	Warnings     int
	OccurredAt   time.Time
}

func (e StockDeductedEvent) Tenant() string { return e.TenantID }

func (StockDeductedEvent) EventName() string { return "inventory.deducted" }

func NewStockDeductedEvent(tenantID, orderID string, applied int, duplicate bool, warnings int) StockDeductedEvent {
	return StockDeductedEvent{
		OrderID:      orderID,
		TenantID:     tenantID,
		AppliedCount: applied,
		Duplicate:    duplicate,
		Warnings:     warnings,
		OccurredAt:   time.Now().UTC(),
	}
}

// StockDeductionFailedEvent is emitted when an order's deduction could not be applied.
type StockDeductionFailedEvent struct {
	OrderID    string
	TenantID   string
	Reason     string
	OccurredAt time.Time
}

func (e StockDeductionFailedEvent) Tenant() string { return e.TenantID }

func (StockDeductionFailedEvent) EventName() string { return "inventory.deduction_failed" }

func NewStockDeductionFailedEvent(tenantID, orderID, reason string) StockDeductionFailedEvent {
	return StockDeductionFailedEvent{
		OrderID:    orderID,
		TenantID:   tenantID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// LowStockEvent signals that an item ended below its minimum quantity.
type LowStockEvent struct {
	TenantID        string
	StockItemID     string
	CurrentQuantity decimal.Decimal
	MinQuantity     decimal.Decimal
	OrderID         string
	OccurredAt      time.Time
}

func (e LowStockEvent) Tenant() string { return e.TenantID }

func (LowStockEvent) EventName() string { return "inventory.low_stock" }

func NewLowStockEvent(item StockItem, orderID string) LowStockEvent {
	return LowStockEvent{
		TenantID:        item.TenantID,
		StockItemID:     item.ID,
		CurrentQuantity: item.CurrentQuantity,
		MinQuantity:     item.MinQuantity,
		OrderID:         orderID,
		OccurredAt:      time.Now().UTC(),
	}
}

package fulfillment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
)

type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Event announces that an order became fulfilled. It may be delivered more than once.
type Event struct {
	OrderID    string     `json:"order_id"`
	TenantID   string     `json:"tenant_id"`
	LineItems  []LineItem `json:"line_items"`
	OccurredAt time.Time  `json:"occurred_at,omitempty"`
}

func (Event) EventName() string { return "order.fulfilled" }

func (e Event) Tenant() string { return e.TenantID }

func NewEvent(tenantID, orderID string, items ...LineItem) Event {
	return Event{
		OrderID:    orderID,
		TenantID:   tenantID,
		LineItems:  items,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate rejects malformed events before any processing happens.
func (e Event) Validate() error {
	if e.TenantID == "" {
		return &inventory.ValidationError{Field: "tenant_id", Reason: "is required"}
	}
	if e.OrderID == "" {
		return &inventory.ValidationError{Field: "order_id", Reason: "is required"}
	}
	if len(e.LineItems) == 0 {
		return &inventory.ValidationError{Field: "line_items", Reason: "must not be empty"}
	}
	for i, li := range e.LineItems {
		if li.ProductID == "" {
			return &inventory.ValidationError{Field: fmt.Sprintf("line_items[%d].product_id", i), Reason: "is required"}
		}
		if !li.Quantity.IsPositive() {
			return &inventory.ValidationError{Field: fmt.Sprintf("line_items[%d].quantity", i), Reason: "must be greater than zero"}
		}
	}
	return nil
}

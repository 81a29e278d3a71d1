package inventory

import (
	"context"
	"fmt"

	dominv "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
)

// QueryService serves read-only ledger views. It never mutates stock.
type QueryService struct {
	ledger dominv.Ledger
}

func NewQueryService(ledger dominv.Ledger) *QueryService {
	return &QueryService{ledger: ledger}
}

// GetLowStockItems lists the tenant's items whose current quantity is under the minimum.
func (s *QueryService) GetLowStockItems(ctx context.Context, tenantID string) ([]dominv.StockItem, error) {
	if tenantID == "" {
		return nil, &dominv.ValidationError{Field: "tenant_id", Reason: "is required"}
	}
	items, err := s.ledger.ListBelowThreshold(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("inventory: low stock: %w", err)
	}
	return items, nil
}

// GetMovementHistory returns the movements recorded against one stock item, oldest first.
func (s *QueryService) GetMovementHistory(ctx context.Context, stockItemID, tenantID string) ([]dominv.StockMovement, error) {
	if tenantID == "" {
		return nil, &dominv.ValidationError{Field: "tenant_id", Reason: "is required"}
	}
	if stockItemID == "" {
		return nil, &dominv.ValidationError{Field: "stock_item_id", Reason: "is required"}
	}
	movements, err := s.ledger.ListMovements(ctx, tenantID, stockItemID)
	if err != nil {
		return nil, fmt.Errorf("inventory: movements of %s: %w", stockItemID, err)
	}
	return movements, nil
}

// GetStockItem returns one tenant-scoped stock record.
func (s *QueryService) GetStockItem(ctx context.Context, tenantID, stockItemID string) (*dominv.StockItem, error) {
	if tenantID == "" {
		return nil, &dominv.ValidationError{Field: "tenant_id", Reason: "is required"}
	}
	item, err := s.ledger.GetStockItem(ctx, tenantID, stockItemID)
	if err != nil {
		return nil, fmt.Errorf("inventory: stock item %s: %w", stockItemID, err)
	}
	return item, nil
}

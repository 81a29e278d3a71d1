package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
)

type stockItemModel struct {
	ID              string          `gorm:"primaryKey;size:64"`
	TenantID        string          `gorm:"size:64;not null;index"`
	Name            string          `gorm:"size:255"`
	Unit            string          `gorm:"size:32"`
	CurrentQuantity decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	MinQuantity     decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	UnitCost        decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Version         int64           `gorm:"not null;default:0"`
	UpdatedAt       time.Time
}

func (stockItemModel) TableName() string { return "stock_items" }

func (m stockItemModel) toDomain() *inventory.StockItem {
	return &inventory.StockItem{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Name:            m.Name,
		Unit:            m.Unit,
		CurrentQuantity: m.CurrentQuantity,
		MinQuantity:     m.MinQuantity,
		UnitCost:        m.UnitCost,
		Version:         m.Version,
		UpdatedAt:       m.UpdatedAt,
	}
}

func stockItemFromDomain(i *inventory.StockItem) stockItemModel {
	return stockItemModel{
		ID:              i.ID,
		TenantID:        i.TenantID,
		Name:            i.Name,
		Unit:            i.Unit,
		CurrentQuantity: i.CurrentQuantity,
		MinQuantity:     i.MinQuantity,
		UnitCost:        i.UnitCost,
		Version:         i.Version,
		UpdatedAt:       i.UpdatedAt,
	}
}

// movementModel rows are append-only. The unique index backs the one-movement-per-order-per-item rule.
type movementModel struct {
	ID            string          `gorm:"primaryKey;size:64"`
	TenantID      string          `gorm:"size:64;not null;uniqueIndex:idx_movement_order_item,priority:1;index:idx_movement_order,priority:1"`
	OrderID       string          `gorm:"size:128;not null;uniqueIndex:idx_movement_order_item,priority:2;index:idx_movement_order,priority:2"`
	StockItemID   string          `gorm:"size:64;not null;uniqueIndex:idx_movement_order_item,priority:3;index"`
	QuantityDelta decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Reason        string          `gorm:"size:255"`
	CostAtTime    decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	CreatedAt     time.Time       `gorm:"not null;index"`
}

func (movementModel) TableName() string { return "stock_movements" }

func (m movementModel) toDomain() inventory.StockMovement {
	return inventory.StockMovement{
		ID:            m.ID,
		TenantID:      m.TenantID,
		StockItemID:   m.StockItemID,
		QuantityDelta: m.QuantityDelta,
		Reason:        m.Reason,
		OrderID:       m.OrderID,
		CostAtTime:    m.CostAtTime,
		Timestamp:     m.CreatedAt,
	}
}

func movementFromDomain(m inventory.StockMovement) movementModel {
	return movementModel{
		ID:            m.ID,
		TenantID:      m.TenantID,
		OrderID:       m.OrderID,
		StockItemID:   m.StockItemID,
		QuantityDelta: m.QuantityDelta,
		Reason:        m.Reason,
		CostAtTime:    m.CostAtTime,
		CreatedAt:     m.Timestamp,
	}
}

type recipeModel struct {
	ID           string                 `gorm:"primaryKey;size:64"`
	TenantID     string                 `gorm:"size:64;not null;index"`
	ProductID    string                 `gorm:"size:64"`
	ComponentKey string                 `gorm:"size:64;not null;uniqueIndex"`
	Yield        decimal.Decimal        `gorm:"type:numeric(20,6);not null"`
	Components   []recipeComponentModel `gorm:"foreignKey:RecipeID;constraint:OnDelete:CASCADE"`
}

func (recipeModel) TableName() string { return "recipes" }

type recipeComponentModel struct {
	ID               uint            `gorm:"primaryKey"`
	RecipeID         string          `gorm:"size:64;not null;index"`
	Position         int             `gorm:"not null"`
	ComponentID      string          `gorm:"size:64;not null"`
	Kind             string          `gorm:"size:16;not null"`
	QuantityPerYield decimal.Decimal `gorm:"type:numeric(20,6);not null"`
}

func (recipeComponentModel) TableName() string { return "recipe_components" }

func (m recipeModel) toDomain() (*recipe.Recipe, error) {
	rec := &recipe.Recipe{ID: m.ID, TenantID: m.TenantID, ProductID: m.ProductID, Yield: m.Yield}
	for _, c := range m.Components {
		kind, err := recipe.ParseKind(c.Kind)
		if err != nil {
			return nil, err
		}
		rec.Components = append(rec.Components, recipe.Component{
			ComponentID:      c.ComponentID,
			Kind:             kind,
			QuantityPerYield: c.QuantityPerYield,
		})
	}
	return rec, nil
}

func recipeFromDomain(r *recipe.Recipe) recipeModel {
	m := recipeModel{
		ID:           r.ID,
		TenantID:     r.TenantID,
		ProductID:    r.ProductID,
		ComponentKey: r.Key(),
		Yield:        r.Yield,
	}
	for i, c := range r.Components {
		m.Components = append(m.Components, recipeComponentModel{
			RecipeID:         r.ID,
			Position:         i,
			ComponentID:      c.ComponentID,
			Kind:             string(c.Kind),
			QuantityPerYield: c.QuantityPerYield,
		})
	}
	return m
}

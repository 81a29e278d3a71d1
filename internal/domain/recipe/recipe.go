package recipe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("recipe: not found")
	ErrInvalidYield    = errors.New("recipe: yield must be greater than zero")
	ErrUnknownKind     = errors.New("recipe: unknown component kind")
	ErrInvalidQuantity = errors.New("recipe: component quantity must be greater than zero")
)

// ComponentKind tags what a component id points at. It is decided once, when a
// recipe is read from storage.
type ComponentKind string

const (
	KindStockItem ComponentKind = "STOCK_ITEM"
	KindRecipe    ComponentKind = "RECIPE"
	// KindAny is used for order line items: the id may name a recipe or a stock item.
	KindAny ComponentKind = "RECIPE_OR_STOCK"
)

// ParseKind accepts the stored spellings of a component kind.
func ParseKind(s string) (ComponentKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STOCK_ITEM", "STOCK", "INGREDIENT":
		return KindStockItem, nil
	case "RECIPE", "SUB_RECIPE":
		return KindRecipe, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// ComponentRef points at something that can be resolved into stock consumption.
type ComponentRef struct {
	ID   string
	Kind ComponentKind
}

type Component struct {
	ComponentID      string
	Kind             ComponentKind
	QuantityPerYield decimal.Decimal
}

func (c Component) Ref() ComponentRef {
	return ComponentRef{ID: c.ComponentID, Kind: c.Kind}
}

// Recipe composes components; one execution of the component list produces Yield units.
type Recipe struct {
	ID         string
	TenantID   string
	ProductID  string
	Yield      decimal.Decimal
	Components []Component
}

// Key is the component id this recipe defines: its product when sellable, else its own id.
func (r *Recipe) Key() string {
	if r.ProductID != "" {
		return r.ProductID
	}
	return r.ID
}

// EffectiveYield defaults an unset yield to one.
func (r *Recipe) EffectiveYield() decimal.Decimal {
	if r.Yield.IsZero() {
		return decimal.NewFromInt(1)
	}
	return r.Yield
}

func (r *Recipe) Validate() error {
	if r.Yield.IsNegative() {
		return fmt.Errorf("%w: recipe %s", ErrInvalidYield, r.ID)
	}
	for _, c := range r.Components {
		if c.Kind != KindStockItem && c.Kind != KindRecipe {
			return fmt.Errorf("%w: recipe %s component %s", ErrUnknownKind, r.ID, c.ComponentID)
		}
		if !c.QuantityPerYield.IsPositive() {
			return fmt.Errorf("%w: recipe %s component %s has %s", ErrInvalidQuantity, r.ID, c.ComponentID, c.QuantityPerYield)
		}
	}
	return nil
}

func (r *Recipe) Clone() *Recipe {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Components = append([]Component(nil), r.Components...)
	return &clone
}

// Catalog is the read-only, tenant-scoped recipe store.
type Catalog interface {
	GetRecipeByComponent(ctx context.Context, tenantID, componentID string) (*Recipe, error)
}

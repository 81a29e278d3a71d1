// Package bom flattens products and recipes into elementary stock consumption.
package bom

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
)

const DefaultMaxDepth = 32

// StockLookup is the part of the stock ledger the resolver reads.
type StockLookup interface {
	GetStockItem(ctx context.Context, tenantID, id string) (*inventory.StockItem, error)
}

// Line is the total quantity of one stock item consumed by a resolution.
type Line struct {
	StockItemID string          `json:"stock_item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type Resolution struct {
	Lines    []Line                        `json:"lines"`
	Warnings []inventory.ResolutionWarning `json:"warnings,omitempty"`
}

// Quantity returns the merged quantity for a stock item, zero if absent.
func (r *Resolution) Quantity(stockItemID string) decimal.Decimal {
	for _, l := range r.Lines {
		if l.StockItemID == stockItemID {
			return l.Quantity
		}
	}
	return decimal.Zero
}

// Resolver performs no writes and is safe for concurrent use.
type Resolver struct {
	catalog  recipe.Catalog
	stock    StockLookup
	maxDepth int
}

type Option func(*Resolver)

func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

func NewResolver(catalog recipe.Catalog, stock StockLookup, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:  catalog,
		stock:    stock,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve expands qty units of ref into stock item quantities. Unknown references
// become warnings; a cycle or runaway nesting fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, ref recipe.ComponentRef, qty decimal.Decimal) (*Resolution, error) {
	w := &walk{
		resolver: r,
		tenantID: tenantID,
		totals:   make(map[string]decimal.Decimal),
		onPath:   make(map[string]bool),
	}
	if err := w.visit(ctx, ref, qty, ""); err != nil {
		return nil, err
	}
	return w.result(), nil
}

type walk struct {
	resolver *Resolver
	tenantID string
	totals   map[string]decimal.Decimal
	warnings []inventory.ResolutionWarning
	path     []string
	onPath   map[string]bool
}

func (w *walk) visit(ctx context.Context, ref recipe.ComponentRef, qty decimal.Decimal, parent string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch ref.Kind {
	case recipe.KindStockItem:
		found, err := w.stockItem(ctx, ref.ID, qty)
		if err != nil || found {
			return err
		}
	case recipe.KindRecipe:
		rec, err := w.recipe(ctx, ref.ID)
		if err != nil {
			return err
		}
		if rec != nil {
			return w.expand(ctx, ref.ID, rec, qty)
		}
	case recipe.KindAny:
		rec, err := w.recipe(ctx, ref.ID)
		if err != nil {
			return err
		}
		if rec != nil {
			return w.expand(ctx, ref.ID, rec, qty)
		}
		found, err := w.stockItem(ctx, ref.ID, qty)
		if err != nil || found {
			return err
		}
	default:
		return fmt.Errorf("bom: component %s: %w", ref.ID, recipe.ErrUnknownKind)
	}

	w.warn(ref.ID, qty, parent)
	return nil
}

func (w *walk) expand(ctx context.Context, id string, rec *recipe.Recipe, qty decimal.Decimal) error {
	if w.onPath[id] {
		path := append(append([]string(nil), w.path...), id)
		return &inventory.CycleError{Path: path}
	}
	if len(w.path) >= w.resolver.maxDepth {
		return fmt.Errorf("bom: %s at depth %d: %w", id, len(w.path), inventory.ErrMaxDepthExceeded)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("bom: %w: %w", inventory.ErrDataIntegrity, err)
	}

	w.onPath[id] = true
	w.path = append(w.path, id)
	defer func() {
		w.path = w.path[:len(w.path)-1]
		delete(w.onPath, id)
	}()

	yield := rec.EffectiveYield()
	for _, c := range rec.Components {
		// multiply before dividing to keep terminating decimals exact
		need := c.QuantityPerYield.Mul(qty).Div(yield)
		if err := w.visit(ctx, c.Ref(), need, id); err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) recipe(ctx context.Context, id string) (*recipe.Recipe, error) {
	rec, err := w.resolver.catalog.GetRecipeByComponent(ctx, w.tenantID, id)
	if errors.Is(err, recipe.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bom: recipe %s: %w", id, err)
	}
	return rec, nil
}

func (w *walk) stockItem(ctx context.Context, id string, qty decimal.Decimal) (bool, error) {
	item, err := w.resolver.stock.GetStockItem(ctx, w.tenantID, id)
	if errors.Is(err, inventory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bom: stock item %s: %w", id, err)
	}
	w.totals[item.ID] = w.totals[item.ID].Add(qty)
	return true, nil
}

func (w *walk) warn(id string, qty decimal.Decimal, parent string) {
	msg := "untracked product: no BOM and no direct stock entry"
	if parent != "" {
		msg = "unknown component referenced by recipe " + parent
	}
	w.warnings = append(w.warnings, inventory.ResolutionWarning{
		ComponentID: id,
		Quantity:    qty,
		Context:     msg,
	})
}

func (w *walk) result() *Resolution {
	lines := make([]Line, 0, len(w.totals))
	for id, qty := range w.totals {
		lines = append(lines, Line{StockItemID: id, Quantity: qty})
	}
	sort.Slice(lines, func(a, b int) bool { return lines[a].StockItemID < lines[b].StockItemID })
	return &Resolution{Lines: lines, Warnings: w.warnings}
}

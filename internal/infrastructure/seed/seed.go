// Package seed loads stock items and recipes from a YAML fixture file.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
)

type yamlFixture struct {
	Tenant     string          `yaml:"tenant"`
	StockItems []yamlStockItem `yaml:"stock_items"`
	Recipes    []yamlRecipe    `yaml:"recipes"`
}

type yamlStockItem struct {
	ID       string `yaml:"id"`
	Tenant   string `yaml:"tenant"`
	Name     string `yaml:"name"`
	Unit     string `yaml:"unit"`
	Quantity string `yaml:"quantity"`
	Min      string `yaml:"min_quantity"`
	UnitCost string `yaml:"unit_cost"`
}

type yamlRecipe struct {
	ID         string          `yaml:"id"`
	Tenant     string          `yaml:"tenant"`
	ProductID  string          `yaml:"product_id"`
	Yield      string          `yaml:"yield"`
	Components []yamlComponent `yaml:"components"`
}

type yamlComponent struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Quantity string `yaml:"quantity"`
}

// Fixture is a mapped, validated seed file.
type Fixture struct {
	StockItems []inventory.StockItem
	Recipes    []recipe.Recipe
}

type StockWriter interface {
	PutStockItem(ctx context.Context, item *inventory.StockItem) error
}

type RecipeWriter interface {
	PutRecipe(ctx context.Context, rec *recipe.Recipe) error
}

// Load reads and maps a fixture file. Errors name the file and the offending field.
func Load(path string) (*Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return Parse(path, b)
}

func Parse(path string, b []byte) (*Fixture, error) {
	var dto yamlFixture
	if err := yaml.Unmarshal(b, &dto); err != nil {
		return nil, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	fx, err := mapFixture(dto)
	if err != nil {
		return nil, fmt.Errorf("seed: %s: %w", path, err)
	}
	return fx, nil
}

// Apply writes stock items first so recipes can reference them.
func (f *Fixture) Apply(ctx context.Context, stock StockWriter, recipes RecipeWriter) error {
	for i := range f.StockItems {
		if err := stock.PutStockItem(ctx, &f.StockItems[i]); err != nil {
			return fmt.Errorf("seed: stock item %s: %w", f.StockItems[i].ID, err)
		}
	}
	for i := range f.Recipes {
		if err := recipes.PutRecipe(ctx, &f.Recipes[i]); err != nil {
			return fmt.Errorf("seed: recipe %s: %w", f.Recipes[i].ID, err)
		}
	}
	return nil
}

func mapFixture(dto yamlFixture) (*Fixture, error) {
	fx := &Fixture{}
	for i, s := range dto.StockItems {
		field := fmt.Sprintf("stock_items[%d]", i)
		tenant := firstNonEmpty(s.Tenant, dto.Tenant)
		if s.ID == "" || tenant == "" {
			return nil, fmt.Errorf("%s: id and tenant are required", field)
		}
		qty, err := parseDecimal(field+".quantity", s.Quantity)
		if err != nil {
			return nil, err
		}
		minQty, err := parseDecimal(field+".min_quantity", s.Min)
		if err != nil {
			return nil, err
		}
		cost, err := parseDecimal(field+".unit_cost", s.UnitCost)
		if err != nil {
			return nil, err
		}
		fx.StockItems = append(fx.StockItems, inventory.StockItem{
			ID:              s.ID,
			TenantID:        tenant,
			Name:            firstNonEmpty(s.Name, s.ID),
			Unit:            s.Unit,
			CurrentQuantity: qty,
			MinQuantity:     minQty,
			UnitCost:        cost,
		})
	}

	for i, r := range dto.Recipes {
		field := fmt.Sprintf("recipes[%d]", i)
		tenant := firstNonEmpty(r.Tenant, dto.Tenant)
		if r.ID == "" || tenant == "" {
			return nil, fmt.Errorf("%s: id and tenant are required", field)
		}
		yield, err := parseDecimal(field+".yield", r.Yield)
		if err != nil {
			return nil, err
		}
		rec := recipe.Recipe{ID: r.ID, TenantID: tenant, ProductID: r.ProductID, Yield: yield}
		for j, c := range r.Components {
			cfield := fmt.Sprintf("%s.components[%d]", field, j)
			if c.ID == "" {
				return nil, fmt.Errorf("%s.id: is required", cfield)
			}
			kind, err := recipe.ParseKind(c.Kind)
			if err != nil {
				return nil, fmt.Errorf("%s.kind: %w", cfield, err)
			}
			qty, err := parseDecimal(cfield+".quantity", c.Quantity)
			if err != nil {
				return nil, err
			}
			rec.Components = append(rec.Components, recipe.Component{ComponentID: c.ID, Kind: kind, QuantityPerYield: qty})
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		fx.Recipes = append(fx.Recipes, rec)
	}
	return fx, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a number", field, raw)
	}
	return d, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

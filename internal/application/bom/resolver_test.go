package bom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/memory"
)

const tenant = "t1"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func stockComp(id, qty string) recipe.Component {
	return recipe.Component{ComponentID: id, Kind: recipe.KindStockItem, QuantityPerYield: d(qty)}
}

func recipeComp(id, qty string) recipe.Component {
	return recipe.Component{ComponentID: id, Kind: recipe.KindRecipe, QuantityPerYield: d(qty)}
}

type fixture struct {
	ledger  *memory.StockLedger
	catalog *memory.RecipeCatalog
}

func newFixture(t *testing.T, items []string, recipes ...recipe.Recipe) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{ledger: memory.NewStockLedger(), catalog: memory.NewRecipeCatalog()}
	for _, id := range items {
		if err := f.ledger.PutStockItem(ctx, &inventory.StockItem{ID: id, TenantID: tenant, CurrentQuantity: d("100")}); err != nil {
			t.Fatalf("put stock %s: %v", id, err)
		}
	}
	for i := range recipes {
		if recipes[i].TenantID == "" {
			recipes[i].TenantID = tenant
		}
		if err := f.catalog.PutRecipe(ctx, &recipes[i]); err != nil {
			t.Fatalf("put recipe %s: %v", recipes[i].ID, err)
		}
	}
	return f
}

func (f *fixture) resolver(opts ...Option) *Resolver {
	return NewResolver(f.catalog, f.ledger, opts...)
}

func product(id string) recipe.ComponentRef {
	return recipe.ComponentRef{ID: id, Kind: recipe.KindAny}
}

func TestResolveFlattensNestedRecipes(t *testing.T) {
	f := newFixture(t, []string{"flour", "yeast", "cheese"},
		recipe.Recipe{ID: "dough", Yield: d("4"), Components: []recipe.Component{
			stockComp("flour", "2"),
			stockComp("yeast", "0.1"),
		}},
		recipe.Recipe{ID: "pizza-recipe", ProductID: "pizza", Yield: d("1"), Components: []recipe.Component{
			recipeComp("dough", "1"),
			stockComp("cheese", "0.25"),
		}},
	)

	res, err := f.resolver().Resolve(context.Background(), tenant, product("pizza"), d("8"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"flour": "4", "yeast": "0.2", "cheese": "2"}
	if len(res.Lines) != len(want) {
		t.Fatalf("expected %d lines, got %+v", len(want), res.Lines)
	}
	for id, qty := range want {
		if got := res.Quantity(id); !got.Equal(d(qty)) {
			t.Errorf("%s: expected %s, got %s", id, qty, got)
		}
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", res.Warnings)
	}
}

func TestResolveNonIntegerYield(t *testing.T) {
	f := newFixture(t, []string{"sugar"},
		recipe.Recipe{ID: "syrup", Yield: d("2.5"), Components: []recipe.Component{stockComp("sugar", "1")}},
		recipe.Recipe{ID: "r-soda", ProductID: "soda", Yield: d("0.5"), Components: []recipe.Component{recipeComp("syrup", "0.5")}},
	)

	// 3 sodas -> 3 syrup -> 1.2 sugar
	res, err := f.resolver().Resolve(context.Background(), tenant, product("soda"), d("3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Quantity("sugar"); !got.Equal(d("1.2")) {
		t.Fatalf("expected 1.2 sugar, got %s", got)
	}
}

func TestResolveMergesSharedStockItems(t *testing.T) {
	f := newFixture(t, []string{"butter", "flour"},
		recipe.Recipe{ID: "crust", Yield: d("1"), Components: []recipe.Component{stockComp("butter", "1"), stockComp("flour", "2")}},
		recipe.Recipe{ID: "r-pie", ProductID: "pie", Components: []recipe.Component{
			recipeComp("crust", "1"),
			stockComp("butter", "0.5"),
		}},
	)

	res, err := f.resolver().Resolve(context.Background(), tenant, product("pie"), d("2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("expected merged lines, got %+v", res.Lines)
	}
	if got := res.Quantity("butter"); !got.Equal(d("3")) {
		t.Fatalf("expected 3 butter, got %s", got)
	}
}

func TestResolveZeroYieldMeansOne(t *testing.T) {
	f := newFixture(t, []string{"tea"},
		recipe.Recipe{ID: "r-cup", ProductID: "cup", Components: []recipe.Component{stockComp("tea", "2")}},
	)
	res, err := f.resolver().Resolve(context.Background(), tenant, product("cup"), d("3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Quantity("tea"); !got.Equal(d("6")) {
		t.Fatalf("expected 6 tea, got %s", got)
	}
}

func TestResolveDirectStockItem(t *testing.T) {
	f := newFixture(t, []string{"bottle"})
	res, err := f.resolver().Resolve(context.Background(), tenant, product("bottle"), d("5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Quantity("bottle"); !got.Equal(d("5")) {
		t.Fatalf("expected 5, got %s", got)
	}
}

func TestResolveWarnings(t *testing.T) {
	f := newFixture(t, []string{"flour"},
		recipe.Recipe{ID: "r-cake", ProductID: "cake", Components: []recipe.Component{
			stockComp("flour", "1"),
			stockComp("vanilla", "0.5"),
			recipeComp("frosting", "1"),
		}},
	)

	t.Run("unknown components", func(t *testing.T) {
		res, err := f.resolver().Resolve(context.Background(), tenant, product("cake"), d("2"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Lines) != 1 || !res.Quantity("flour").Equal(d("2")) {
			t.Fatalf("expected only flour to resolve, got %+v", res.Lines)
		}
		if len(res.Warnings) != 2 {
			t.Fatalf("expected 2 warnings, got %v", res.Warnings)
		}
		if res.Warnings[0].ComponentID != "vanilla" || !res.Warnings[0].Quantity.Equal(d("1")) {
			t.Fatalf("unexpected first warning: %v", res.Warnings[0])
		}
	})

	t.Run("untracked product", func(t *testing.T) {
		res, err := f.resolver().Resolve(context.Background(), tenant, product("gift-card"), d("1"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Lines) != 0 || len(res.Warnings) != 1 || res.Warnings[0].ComponentID != "gift-card" {
			t.Fatalf("expected a single untracked warning, got %+v", res)
		}
	})
}

func TestResolveDetectsCycle(t *testing.T) {
	f := newFixture(t, []string{"water"},
		recipe.Recipe{ID: "a", Components: []recipe.Component{recipeComp("b", "1")}},
		recipe.Recipe{ID: "b", Components: []recipe.Component{stockComp("water", "1"), recipeComp("c", "1")}},
		recipe.Recipe{ID: "c", Components: []recipe.Component{recipeComp("a", "1")}},
	)

	_, err := f.resolver().Resolve(context.Background(), tenant, product("a"), d("1"))
	if !errors.Is(err, inventory.ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	var cycle *inventory.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if got := fmt.Sprint(cycle.Path); got != "[a b c a]" {
		t.Fatalf("unexpected cycle path %s", got)
	}
}

func TestResolveSelfReference(t *testing.T) {
	f := newFixture(t, nil,
		recipe.Recipe{ID: "loop", Components: []recipe.Component{recipeComp("loop", "1")}},
	)
	_, err := f.resolver().Resolve(context.Background(), tenant, product("loop"), d("1"))
	if !errors.Is(err, inventory.ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestResolveSharedSubRecipeIsNotACycle(t *testing.T) {
	f := newFixture(t, []string{"egg"},
		recipe.Recipe{ID: "base", Components: []recipe.Component{stockComp("egg", "1")}},
		recipe.Recipe{ID: "left", Components: []recipe.Component{recipeComp("base", "1")}},
		recipe.Recipe{ID: "right", Components: []recipe.Component{recipeComp("base", "2")}},
		recipe.Recipe{ID: "r-top", ProductID: "top", Components: []recipe.Component{recipeComp("left", "1"), recipeComp("right", "1")}},
	)
	res, err := f.resolver().Resolve(context.Background(), tenant, product("top"), d("1"))
	if err != nil {
		t.Fatalf("diamond must resolve, got %v", err)
	}
	if got := res.Quantity("egg"); !got.Equal(d("3")) {
		t.Fatalf("expected 3 eggs, got %s", got)
	}
}

func TestResolveMaxDepth(t *testing.T) {
	var recipes []recipe.Recipe
	for i := 0; i < 5; i++ {
		recipes = append(recipes, recipe.Recipe{
			ID:         fmt.Sprintf("level-%d", i),
			Components: []recipe.Component{recipeComp(fmt.Sprintf("level-%d", i+1), "1")},
		})
	}
	recipes = append(recipes, recipe.Recipe{ID: "level-5", Components: []recipe.Component{stockComp("salt", "1")}})
	f := newFixture(t, []string{"salt"}, recipes...)

	if _, err := f.resolver(WithMaxDepth(3)).Resolve(context.Background(), tenant, product("level-0"), d("1")); !errors.Is(err, inventory.ErrMaxDepthExceeded) {
		t.Fatalf("expected ErrMaxDepthExceeded, got %v", err)
	}
	res, err := f.resolver().Resolve(context.Background(), tenant, product("level-0"), d("1"))
	if err != nil {
		t.Fatalf("default depth must be enough, got %v", err)
	}
	if !res.Quantity("salt").Equal(d("1")) {
		t.Fatalf("expected 1 salt, got %s", res.Quantity("salt"))
	}
}

func TestResolveTenantScope(t *testing.T) {
	f := newFixture(t, []string{"flour"},
		recipe.Recipe{ID: "r-bun", ProductID: "bun", Components: []recipe.Component{stockComp("flour", "1")}},
	)
	_, err := f.resolver().Resolve(context.Background(), "t2", product("bun"), d("1"))
	if !errors.Is(err, inventory.ErrTenantScopeViolation) {
		t.Fatalf("expected ErrTenantScopeViolation, got %v", err)
	}
}

// rawCatalog serves recipes exactly as stored, skipping write-time validation,
// the way rows written by another tool would come back.
type rawCatalog map[string]*recipe.Recipe

func (c rawCatalog) GetRecipeByComponent(_ context.Context, _ string, id string) (*recipe.Recipe, error) {
	if rec, ok := c[id]; ok {
		return rec, nil
	}
	return nil, recipe.ErrNotFound
}

func TestResolveRejectsNonPositiveComponentQuantity(t *testing.T) {
	for _, qty := range []string{"0", "-2"} {
		t.Run(qty, func(t *testing.T) {
			f := newFixture(t, []string{"flour"})
			catalog := rawCatalog{"p": {ID: "p", TenantID: tenant, Components: []recipe.Component{stockComp("flour", qty)}}}

			_, err := NewResolver(catalog, f.ledger).Resolve(context.Background(), tenant, product("p"), d("1"))
			if !errors.Is(err, inventory.ErrDataIntegrity) || !errors.Is(err, recipe.ErrInvalidQuantity) {
				t.Fatalf("expected data integrity error, got %v", err)
			}
			if err := f.catalog.PutRecipe(context.Background(), catalog["p"]); !errors.Is(err, recipe.ErrInvalidQuantity) {
				t.Fatalf("expected catalog to refuse the recipe, got %v", err)
			}
		})
	}
}

func TestResolveConcurrentCallsAgree(t *testing.T) {
	f := newFixture(t, []string{"flour", "yeast"},
		recipe.Recipe{ID: "dough", Yield: d("4"), Components: []recipe.Component{stockComp("flour", "2"), stockComp("yeast", "0.1")}},
	)
	r := f.resolver()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), tenant, product("dough"), d("8"))
			if err != nil {
				errs <- err
				return
			}
			if !res.Quantity("flour").Equal(d("4")) {
				errs <- fmt.Errorf("flour = %s", res.Quantity("flour"))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

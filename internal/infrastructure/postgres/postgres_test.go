package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skipf("DATABASE_DSN not set; skipping postgres tests")
	}
	db, err := Open(dsn)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := Ping(ctx, db); err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	return db
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// scope prefixes ids so parallel runs against one database never collide.
func scope(id string) string { return id + "-" + uuid.NewString()[:8] }

func TestStockLedgerApplyAndIdempotency(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	l := NewStockLedger(db)
	tenant, flour := scope("tenant"), scope("flour")

	if err := l.PutStockItem(ctx, &inventory.StockItem{ID: flour, TenantID: tenant, CurrentQuantity: d("10"), MinQuantity: d("7"), UnitCost: d("0.9")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	plan := inventory.DeductionPlan{TenantID: tenant, OrderID: "o-1", Reason: inventory.OrderReason("o-1"),
		Entries: []inventory.PlanEntry{{StockItemID: flour, Quantity: d("4")}, {StockItemID: scope("ghost"), Quantity: d("1")}}}

	out, err := l.ApplyDeductionPlan(ctx, plan)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Applied != 1 || len(out.Missing) != 1 || len(out.BelowThreshold) != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	out, err = l.ApplyDeductionPlan(ctx, plan)
	if err != nil || !out.AlreadyApplied {
		t.Fatalf("expected AlreadyApplied, got %+v %v", out, err)
	}

	item, err := l.GetStockItem(ctx, tenant, flour)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !item.CurrentQuantity.Equal(d("6")) {
		t.Fatalf("expected 6, got %s", item.CurrentQuantity)
	}
	movements, err := l.ListMovements(ctx, tenant, flour)
	if err != nil || len(movements) != 1 || !movements[0].QuantityDelta.Equal(d("-4")) {
		t.Fatalf("unexpected movements: %+v %v", movements, err)
	}
	low, err := l.ListBelowThreshold(ctx, tenant)
	if err != nil || len(low) != 1 {
		t.Fatalf("unexpected low stock: %+v %v", low, err)
	}
	if _, err := l.GetStockItem(ctx, scope("other"), flour); !errors.Is(err, inventory.ErrTenantScopeViolation) {
		t.Fatalf("expected ErrTenantScopeViolation, got %v", err)
	}
}

func TestStockLedgerConcurrentOrders(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	l := NewStockLedger(db)
	tenant, flour := scope("tenant"), scope("flour")
	if err := l.PutStockItem(ctx, &inventory.StockItem{ID: flour, TenantID: tenant, CurrentQuantity: d("100")}); err != nil {
		t.Fatalf("put: %v", err)
	}

	const orders = 10
	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := fmt.Sprintf("o-%d", i)
			plan := inventory.DeductionPlan{TenantID: tenant, OrderID: orderID, Entries: []inventory.PlanEntry{{StockItemID: flour, Quantity: d("2")}}}
			// same order delivered twice at once
			for j := 0; j < 2; j++ {
				for {
					_, err := l.ApplyDeductionPlan(ctx, plan)
					if err == nil {
						break
					}
					if !inventory.IsRetryable(err) {
						t.Errorf("order %s: %v", orderID, err)
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()

	item, _ := l.GetStockItem(ctx, tenant, flour)
	if !item.CurrentQuantity.Equal(d("80")) {
		t.Fatalf("expected 80, got %s", item.CurrentQuantity)
	}
}

func TestRecipeCatalogRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c := NewRecipeCatalog(db)
	tenant, product := scope("tenant"), scope("latte")

	rec := &recipe.Recipe{ID: scope("r"), TenantID: tenant, ProductID: product, Yield: d("2"), Components: []recipe.Component{
		{ComponentID: "milk", Kind: recipe.KindStockItem, QuantityPerYield: d("0.5")},
		{ComponentID: "espresso", Kind: recipe.KindRecipe, QuantityPerYield: d("2")},
	}}
	if err := c.PutRecipe(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec.Components = rec.Components[:1]
	if err := c.PutRecipe(ctx, rec); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := c.GetRecipeByComponent(ctx, tenant, product)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Components) != 1 || got.Components[0].ComponentID != "milk" || !got.Yield.Equal(d("2")) {
		t.Fatalf("unexpected recipe: %+v", got)
	}
	if _, err := c.GetRecipeByComponent(ctx, scope("other"), product); !errors.Is(err, inventory.ErrTenantScopeViolation) {
		t.Fatalf("expected ErrTenantScopeViolation, got %v", err)
	}
	if _, err := c.GetRecipeByComponent(ctx, tenant, scope("none")); !errors.Is(err, recipe.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/stockledger/internal/application/bom"
	appinventory "github.com/Zhima-Mochi/stockledger/internal/application/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/fulfillment"
	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/memory"
)

func getMySQLDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/stockledger"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func scope(id string) string { return id + "-" + uuid.NewString()[:8] }

func TestApplyDeductionPlan_Success(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	l := NewStockLedger(db)
	tenant, flour := scope("tenant"), scope("flour")

	if err := l.PutStockItem(ctx, &inventory.StockItem{ID: flour, TenantID: tenant, CurrentQuantity: d("10"), MinQuantity: d("1"), UnitCost: d("2.5")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	plan := inventory.DeductionPlan{TenantID: tenant, OrderID: "o-1", Reason: inventory.OrderReason("o-1"),
		Entries: []inventory.PlanEntry{{StockItemID: flour, Quantity: d("1.5")}, {StockItemID: flour, Quantity: d("2.5")}}}

	out, err := l.ApplyDeductionPlan(ctx, plan)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Applied != 1 {
		t.Fatalf("expected one merged entry, got %+v", out)
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
	if err != nil || len(movements) != 1 || !movements[0].CostAtTime.Equal(d("2.5")) {
		t.Fatalf("unexpected movements: %+v %v", movements, err)
	}
}

func TestApplyDeductionPlan_ConcurrentOrdersSerializeOnRowLocks(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	l := NewStockLedger(db)
	tenant, flour := scope("tenant"), scope("flour")
	if err := l.PutStockItem(ctx, &inventory.StockItem{ID: flour, TenantID: tenant, CurrentQuantity: d("50")}); err != nil {
		t.Fatalf("put: %v", err)
	}

	const orders = 10
	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			plan := inventory.DeductionPlan{TenantID: tenant, OrderID: fmt.Sprintf("o-%d", i),
				Entries: []inventory.PlanEntry{{StockItemID: flour, Quantity: d("1")}}}
			if _, err := l.ApplyDeductionPlan(ctx, plan); err != nil {
				t.Errorf("order %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	item, _ := l.GetStockItem(ctx, tenant, flour)
	if !item.CurrentQuantity.Equal(d("40")) {
		t.Fatalf("expected 40, got %s", item.CurrentQuantity)
	}
}

func TestApplyFulfillment_ConcurrentOrdersThroughCoordinator(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	l := NewStockLedger(db)
	tenant, flour := scope("tenant"), scope("flour")
	if err := l.PutStockItem(ctx, &inventory.StockItem{ID: flour, TenantID: tenant, CurrentQuantity: d("100")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	resolver := bom.NewResolver(memory.NewRecipeCatalog(), l)
	uc := appinventory.NewDeductionCoordinator(resolver, l, nil, nil, appinventory.Options{})

	const orders = 20
	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// each order arrives twice
			evt := fulfillment.NewEvent(tenant, fmt.Sprintf("o-%d", i), fulfillment.LineItem{ProductID: flour, Quantity: d("2")})
			for j := 0; j < 2; j++ {
				if _, err := uc.Execute(ctx, evt); err != nil {
					t.Errorf("order %d: %v", i, err)
				}
			}
		}(i)
	}
	wg.Wait()

	item, err := l.GetStockItem(ctx, tenant, flour)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !item.CurrentQuantity.Equal(d("60")) {
		t.Fatalf("expected 60, got %s", item.CurrentQuantity)
	}
	movements, err := l.ListMovements(ctx, tenant, flour)
	if err != nil || len(movements) != orders {
		t.Fatalf("expected %d movements, got %d (%v)", orders, len(movements), err)
	}
}

func TestRecipeCatalog_TenantScope(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	c := NewRecipeCatalog(db)
	tenant, product := scope("tenant"), scope("latte")

	rec := &recipe.Recipe{ID: scope("r"), TenantID: tenant, ProductID: product, Components: []recipe.Component{
		{ComponentID: "milk", Kind: recipe.KindStockItem, QuantityPerYield: d("0.25")},
	}}
	if err := c.PutRecipe(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := c.GetRecipeByComponent(ctx, tenant, product)
	if err != nil || len(got.Components) != 1 || !got.EffectiveYield().Equal(d("1")) {
		t.Fatalf("unexpected recipe: %+v %v", got, err)
	}
	if _, err := c.GetRecipeByComponent(ctx, scope("other"), product); !errors.Is(err, inventory.ErrTenantScopeViolation) {
		t.Fatalf("expected ErrTenantScopeViolation, got %v", err)
	}
	if err := c.PutRecipe(ctx, &recipe.Recipe{ID: scope("r"), TenantID: scope("other"), ProductID: product}); !errors.Is(err, inventory.ErrTenantScopeViolation) {
		t.Fatalf("expected cross-tenant overwrite to be refused, got %v", err)
	}
}

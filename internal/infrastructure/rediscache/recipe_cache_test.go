package rediscache

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/memory"
)

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type countingCatalog struct {
	*memory.RecipeCatalog
	reads atomic.Int32
}

func (c *countingCatalog) GetRecipeByComponent(ctx context.Context, tenantID, componentID string) (*recipe.Recipe, error) {
	c.reads.Add(1)
	return c.RecipeCatalog.GetRecipeByComponent(ctx, tenantID, componentID)
}

func TestRecipeCacheReadThrough(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	inner := &countingCatalog{RecipeCatalog: memory.NewRecipeCatalog()}
	cache := NewRecipeCache(client, inner, time.Minute, nil)

	product := "latte-" + uuid.NewString()
	rec := &recipe.Recipe{ID: "r-" + product, TenantID: "t1", ProductID: product, Yield: decimal.RequireFromString("2"),
		Components: []recipe.Component{{ComponentID: "milk", Kind: recipe.KindStockItem, QuantityPerYield: decimal.RequireFromString("0.5")}}}
	if err := cache.PutRecipe(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	t.Cleanup(func() { _ = cache.Invalidate(context.Background(), product) })

	for i := 0; i < 3; i++ {
		got, err := cache.GetRecipeByComponent(ctx, "t1", product)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if !got.Yield.Equal(decimal.RequireFromString("2")) || len(got.Components) != 1 {
			t.Fatalf("unexpected recipe: %+v", got)
		}
	}
	if inner.reads.Load() != 1 {
		t.Fatalf("expected a single catalog read, got %d", inner.reads.Load())
	}

	if _, err := cache.GetRecipeByComponent(ctx, "t2", product); !errors.Is(err, inventory.ErrTenantScopeViolation) {
		t.Fatalf("cached entry must stay tenant scoped, got %v", err)
	}

	rec.Yield = decimal.RequireFromString("4")
	if err := cache.PutRecipe(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := cache.GetRecipeByComponent(ctx, "t1", product)
	if err != nil || !got.Yield.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("expected invalidated entry to reload, got %+v %v", got, err)
	}
}

func TestRecipeCacheCachesMisses(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	inner := &countingCatalog{RecipeCatalog: memory.NewRecipeCatalog()}
	cache := NewRecipeCache(client, inner, time.Minute, nil)
	missing := "ghost-" + uuid.NewString()
	t.Cleanup(func() { _ = cache.Invalidate(context.Background(), missing) })

	for i := 0; i < 2; i++ {
		if _, err := cache.GetRecipeByComponent(ctx, "t1", missing); !errors.Is(err, recipe.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if inner.reads.Load() != 1 {
		t.Fatalf("expected the miss to be cached, got %d reads", inner.reads.Load())
	}
}

func TestRecipeCacheFallsBackWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	inner := &countingCatalog{RecipeCatalog: memory.NewRecipeCatalog()}
	if err := inner.PutRecipe(context.Background(), &recipe.Recipe{ID: "r-1", TenantID: "t1", ProductID: "tea"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	cache := NewRecipeCache(client, inner, time.Minute, nil)

	got, err := cache.GetRecipeByComponent(context.Background(), "t1", "tea")
	if err != nil || got.ID != "r-1" {
		t.Fatalf("expected fallback to catalog, got %+v %v", got, err)
	}
}

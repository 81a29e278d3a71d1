// Package rediscache puts a Redis read-through cache in front of a recipe catalog.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
	"github.com/Zhima-Mochi/stockledger/internal/observability"
)

const (
	recipeKeyPrefix = "recipe:"
	missingMarker   = "-"
	DefaultTTL      = 5 * time.Minute
)

// RecipeWriter is implemented by catalogs that accept recipe updates.
type RecipeWriter interface {
	PutRecipe(ctx context.Context, rec *recipe.Recipe) error
}

type cachedComponent struct {
	ComponentID      string          `json:"component_id"`
	Kind             string          `json:"kind"`
	QuantityPerYield decimal.Decimal `json:"quantity_per_yield"`
}

type cachedRecipe struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	ProductID  string            `json:"product_id,omitempty"`
	Yield      decimal.Decimal   `json:"yield"`
	Components []cachedComponent `json:"components"`
}

// RecipeCache serves GetRecipeByComponent from Redis and falls back to the wrapped
// catalog on a miss or when Redis is unavailable. Misses are cached too, for a tenth of the TTL.
type RecipeCache struct {
	client *redis.Client
	next   recipe.Catalog
	ttl    time.Duration
	log    observability.Logger
}

func NewRecipeCache(client *redis.Client, next recipe.Catalog, ttl time.Duration, logger observability.Logger) *RecipeCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RecipeCache{
		client: client,
		next:   next,
		ttl:    ttl,
		log:    logger.With(observability.F("component", "recipe_cache")),
	}
}

func (c *RecipeCache) GetRecipeByComponent(ctx context.Context, tenantID, componentID string) (*recipe.Recipe, error) {
	key := recipeKeyPrefix + componentID

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if raw == missingMarker {
			return nil, recipe.ErrNotFound
		}
		rec, derr := decode(raw)
		if derr == nil {
			return scoped(rec, tenantID, componentID)
		}
		c.log.Warn("recipe_cache_decode_failed", observability.F("key", key), observability.Err(derr))
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("recipe_cache_unavailable", observability.Err(err))
		return c.next.GetRecipeByComponent(ctx, tenantID, componentID)
	}

	rec, err := c.next.GetRecipeByComponent(ctx, tenantID, componentID)
	switch {
	case errors.Is(err, recipe.ErrNotFound):
		c.store(ctx, key, missingMarker, c.ttl/10)
		return nil, err
	case err != nil:
		// tenant violations are not cached: the owner must still get the recipe
		return nil, err
	}
	if b, merr := encode(rec); merr == nil {
		c.store(ctx, key, b, c.ttl)
	}
	return rec, nil
}

// PutRecipe writes through to the wrapped catalog and drops the cached entry.
func (c *RecipeCache) PutRecipe(ctx context.Context, rec *recipe.Recipe) error {
	w, ok := c.next.(RecipeWriter)
	if !ok {
		return fmt.Errorf("recipe cache: wrapped catalog is read-only")
	}
	if err := w.PutRecipe(ctx, rec); err != nil {
		return err
	}
	return c.Invalidate(ctx, rec.Key())
}

func (c *RecipeCache) Invalidate(ctx context.Context, componentID string) error {
	if err := c.client.Del(ctx, recipeKeyPrefix+componentID).Err(); err != nil {
		return fmt.Errorf("recipe cache: invalidate %s: %w", componentID, err)
	}
	return nil
}

func (c *RecipeCache) store(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn("recipe_cache_store_failed", observability.F("key", key), observability.Err(err))
	}
}

func scoped(rec *recipe.Recipe, tenantID, componentID string) (*recipe.Recipe, error) {
	if rec.TenantID != tenantID {
		return nil, fmt.Errorf("recipe %s requested by tenant %s: %w", componentID, tenantID, inventory.ErrTenantScopeViolation)
	}
	return rec, nil
}

func encode(rec *recipe.Recipe) (string, error) {
	dto := cachedRecipe{ID: rec.ID, TenantID: rec.TenantID, ProductID: rec.ProductID, Yield: rec.Yield}
	for _, comp := range rec.Components {
		dto.Components = append(dto.Components, cachedComponent{
			ComponentID:      comp.ComponentID,
			Kind:             string(comp.Kind),
			QuantityPerYield: comp.QuantityPerYield,
		})
	}
	b, err := json.Marshal(dto)
	return string(b), err
}

func decode(raw string) (*recipe.Recipe, error) {
	var dto cachedRecipe
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		return nil, err
	}
	rec := &recipe.Recipe{ID: dto.ID, TenantID: dto.TenantID, ProductID: dto.ProductID, Yield: dto.Yield}
	for _, comp := range dto.Components {
		kind, err := recipe.ParseKind(comp.Kind)
		if err != nil {
			return nil, err
		}
		rec.Components = append(rec.Components, recipe.Component{
			ComponentID:      comp.ComponentID,
			Kind:             kind,
			QuantityPerYield: comp.QuantityPerYield,
		})
	}
	return rec, nil
}

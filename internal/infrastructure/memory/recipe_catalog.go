package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
)

// RecipeCatalog indexes recipes by the component id they define.
type RecipeCatalog struct {
	mu      sync.RWMutex
	recipes map[string]*domain.Recipe
}

func NewRecipeCatalog() *RecipeCatalog {
	return &RecipeCatalog{
		recipes: make(map[string]*domain.Recipe),
	}
}

func (c *RecipeCatalog) PutRecipe(ctx context.Context, rec *domain.Recipe) error {
	_ = ctx
	if rec == nil || rec.ID == "" || rec.TenantID == "" {
		return fmt.Errorf("recipe catalog: id and tenant are required")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := rec.Key()
	if existing, ok := c.recipes[key]; ok && existing.TenantID != rec.TenantID {
		return fmt.Errorf("recipe catalog: component %s: %w", key, inventory.ErrTenantScopeViolation)
	}
	c.recipes[key] = rec.Clone()
	return nil
}

func (c *RecipeCatalog) GetRecipeByComponent(ctx context.Context, tenantID, componentID string) (*domain.Recipe, error) {
	_ = ctx

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.recipes[componentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rec.TenantID != tenantID {
		return nil, fmt.Errorf("recipe %s requested by tenant %s: %w", componentID, tenantID, inventory.ErrTenantScopeViolation)
	}
	return rec.Clone(), nil
}

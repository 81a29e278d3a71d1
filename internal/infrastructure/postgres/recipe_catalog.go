package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
)

type RecipeCatalog struct {
	db *gorm.DB
}

func NewRecipeCatalog(db *gorm.DB) *RecipeCatalog {
	return &RecipeCatalog{db: db}
}

// PutRecipe replaces a recipe and its component list.
func (c *RecipeCatalog) PutRecipe(ctx context.Context, rec *domain.Recipe) error {
	if rec == nil || rec.ID == "" || rec.TenantID == "" {
		return fmt.Errorf("recipe catalog: id and tenant are required")
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	m := recipeFromDomain(rec)

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing recipeModel
		err := tx.Where("component_key = ?", m.ComponentKey).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case existing.TenantID != rec.TenantID:
			return fmt.Errorf("recipe catalog: component %s: %w", m.ComponentKey, inventory.ErrTenantScopeViolation)
		default:
			if err := tx.Where("recipe_id = ?", existing.ID).Delete(&recipeComponentModel{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&recipeModel{}, "id = ?", existing.ID).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("recipe_id = ?", m.ID).Delete(&recipeComponentModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&recipeModel{}, "id = ?", m.ID).Error; err != nil {
			return err
		}
		return tx.Create(&m).Error
	})
	return mapError(err)
}

func (c *RecipeCatalog) GetRecipeByComponent(ctx context.Context, tenantID, componentID string) (*domain.Recipe, error) {
	var m recipeModel
	err := c.db.WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("component_key = ?", componentID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	if m.TenantID != tenantID {
		return nil, fmt.Errorf("recipe %s requested by tenant %s: %w", componentID, tenantID, inventory.ErrTenantScopeViolation)
	}
	rec, err := m.toDomain()
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w: %w", componentID, inventory.ErrDataIntegrity, err)
	}
	return rec, nil
}

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
)

type RecipeCatalog struct {
	db *sql.DB
}

func NewRecipeCatalog(db *sql.DB) *RecipeCatalog {
	return &RecipeCatalog{db: db}
}

func (c *RecipeCatalog) PutRecipe(ctx context.Context, rec *domain.Recipe) error {
	if rec == nil || rec.ID == "" || rec.TenantID == "" {
		return fmt.Errorf("recipe catalog: id and tenant are required")
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	key := rec.Key()
	var existingID, owner string
	err = tx.QueryRowContext(ctx, `SELECT id, tenant_id FROM recipes WHERE component_key = ? FOR UPDATE`, key).Scan(&existingID, &owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return mapError(fmt.Errorf("query recipe: %w", err))
	case owner != rec.TenantID:
		return fmt.Errorf("recipe catalog: component %s: %w", key, inventory.ErrTenantScopeViolation)
	default:
		if err := deleteRecipe(ctx, tx, existingID); err != nil {
			return mapError(err)
		}
	}
	if err := deleteRecipe(ctx, tx, rec.ID); err != nil {
		return mapError(err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO recipes (id, tenant_id, product_id, component_key, yield) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.ProductID, key, rec.Yield,
	); err != nil {
		return mapError(fmt.Errorf("insert recipe: %w", err))
	}
	for i, comp := range rec.Components {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_components (recipe_id, position, component_id, kind, quantity_per_yield)
			VALUES (?, ?, ?, ?, ?)`,
			rec.ID, i, comp.ComponentID, string(comp.Kind), comp.QuantityPerYield,
		); err != nil {
			return mapError(fmt.Errorf("insert component: %w", err))
		}
	}
	return mapError(tx.Commit())
}

func deleteRecipe(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_components WHERE recipe_id = ?`, id); err != nil {
		return fmt.Errorf("delete components: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	return nil
}

func (c *RecipeCatalog) GetRecipeByComponent(ctx context.Context, tenantID, componentID string) (*domain.Recipe, error) {
	rec := &domain.Recipe{}
	err := c.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, product_id, yield FROM recipes WHERE component_key = ?`, componentID,
	).Scan(&rec.ID, &rec.TenantID, &rec.ProductID, &rec.Yield)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("query recipe: %w", err))
	}
	if rec.TenantID != tenantID {
		return nil, fmt.Errorf("recipe %s requested by tenant %s: %w", componentID, tenantID, inventory.ErrTenantScopeViolation)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT component_id, kind, quantity_per_yield
		FROM recipe_components WHERE recipe_id = ? ORDER BY position`, rec.ID)
	if err != nil {
		return nil, mapError(fmt.Errorf("query components: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var comp domain.Component
		var kind string
		if err := rows.Scan(&comp.ComponentID, &kind, &comp.QuantityPerYield); err != nil {
			return nil, mapError(fmt.Errorf("scan component: %w", err))
		}
		if comp.Kind, err = domain.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("recipe %s: %w: %w", rec.ID, inventory.ErrDataIntegrity, err)
		}
		rec.Components = append(rec.Components, comp)
	}
	return rec, mapError(rows.Err())
}

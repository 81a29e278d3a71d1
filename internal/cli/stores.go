package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Zhima-Mochi/stockledger/internal/config"
	dominv "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/mysql"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/rediscache"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/seed"
	"github.com/Zhima-Mochi/stockledger/internal/observability"
)

type stockStore interface {
	dominv.Ledger
	seed.StockWriter
}

type recipeStore interface {
	recipe.Catalog
	seed.RecipeWriter
}

type stores struct {
	ledger  stockStore
	catalog recipeStore
	closers []func() error
}

func (s *stores) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openStores builds the ledger and catalog for cfg.Store, puts the Redis cache in
// front of the catalog when configured, and loads the seed file.
func openStores(ctx context.Context, cfg *config.Config, logger observability.Logger) (*stores, error) {
	s := &stores{}

	switch cfg.Store {
	case config.StoreMemory:
		s.ledger, s.catalog = memory.NewStockLedger(), memory.NewRecipeCatalog()
	case config.StorePostgres:
		db, err := postgres.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.closers = append(s.closers, sqlDB.Close)
		s.ledger, s.catalog = postgres.NewStockLedger(db), postgres.NewRecipeCatalog(db)
	case config.StoreMySQL:
		db, err := mysql.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.ledger, s.catalog = mysql.NewStockLedger(db), mysql.NewRecipeCatalog(db)
	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Store)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s.closers = append(s.closers, client.Close)
		s.catalog = rediscache.NewRecipeCache(client, s.catalog, cfg.RecipeCacheTTL, logger)
		logger.Info("recipe_cache_enabled", observability.F("addr", cfg.RedisAddr))
	}

	if cfg.SeedFile != "" {
		fx, err := seed.Load(cfg.SeedFile)
		if err == nil {
			err = fx.Apply(ctx, s.ledger, s.catalog)
		}
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Info("seed_loaded",
			observability.F("file", cfg.SeedFile),
			observability.F("stock_items", len(fx.StockItems)),
			observability.F("recipes", len(fx.Recipes)),
		)
	}

	logger.Info("stores_opened", observability.F("store", cfg.Store))
	return s, nil
}

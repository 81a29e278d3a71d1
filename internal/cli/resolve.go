package cli

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Zhima-Mochi/stockledger/internal/application/bom"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/seed"
)

func resolveCmd() *cobra.Command {
	var (
		seedFile string
		tenantID string
		product  string
		qty      string
		maxDepth int
	)

	c := &cobra.Command{
		Use:   "resolve",
		Short: "Print the flattened stock consumption of a product (no stock is touched)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			quantity, err := decimal.NewFromString(qty)
			if err != nil || !quantity.IsPositive() {
				return fmt.Errorf("--qty must be a positive decimal, got %q", qty)
			}

			fx, err := seed.Load(seedFile)
			if err != nil {
				return err
			}
			ledger := memory.NewStockLedger()
			catalog := memory.NewRecipeCatalog()
			if err := fx.Apply(cmd.Context(), ledger, catalog); err != nil {
				return err
			}

			resolver := bom.NewResolver(catalog, ledger, bom.WithMaxDepth(maxDepth))
			res, err := resolver.Resolve(cmd.Context(), tenantID, recipe.ComponentRef{ID: product, Kind: recipe.KindAny}, quantity)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	c.Flags().StringVarP(&seedFile, "seed", "s", "", "YAML fixture with stock items and recipes (required)")
	c.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id (required)")
	c.Flags().StringVarP(&product, "product", "p", "", "Product, recipe or stock item id (required)")
	c.Flags().StringVarP(&qty, "qty", "q", "1", "Quantity ordered")
	c.Flags().IntVar(&maxDepth, "max-depth", bom.DefaultMaxDepth, "Maximum recipe nesting depth")

	_ = c.MarkFlagRequired("seed")
	_ = c.MarkFlagRequired("tenant")
	_ = c.MarkFlagRequired("product")
	return c
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	httppresentation "github.com/Zhima-Mochi/stockledger/internal/presentation/http"
)

func tokenCmd() *cobra.Command {
	var (
		tenantID string
		ttl      time.Duration
	)

	c := &cobra.Command{
		Use:   "token",
		Short: "Issue a tenant bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			token, err := httppresentation.IssueToken(secret, tenantID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	c.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id the token is bound to (required)")
	c.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = c.MarkFlagRequired("tenant")
	return c
}

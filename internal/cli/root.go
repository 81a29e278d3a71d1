// Package cli holds the stockledger command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/Zhima-Mochi/stockledger/internal/cli.version=...".
var version = "dev"

func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "stockledger",
		Short:        "Recipe-based inventory deduction service",
		SilenceUsage: true,
	}
	cmd.AddCommand(serveCmd(), resolveCmd(), tokenCmd(), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"hyperregistry/internal/api"
	"hyperregistry/internal/app"
)

var (
	lsNamespace string
	lsCategory  string
	lsStatus    string
)

// lsCmd lists entries as a table.
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List entries",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

func init() {
	lsCmd.Flags().StringVar(&lsNamespace, "namespace", "", "Filter by namespace")
	lsCmd.Flags().StringVar(&lsCategory, "category", "", "Filter by category")
	lsCmd.Flags().StringVar(&lsStatus, "status", "", "Filter by lifecycle status")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	return withApplication(func(ctx context.Context, a *app.Application) error {
		entries, err := a.Registry().Search(ctx, api.SearchFilters{
			Namespace: lsNamespace,
			Category:  api.Category(lsCategory),
			Status:    api.EntryStatus(lsStatus),
		})
		if err != nil {
			return err
		}
		renderEntries(cmd.OutOrStdout(), entries)
		return nil
	})
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hyperregistry/internal/app"
)

// exportCmd writes a JSON snapshot of the store.
var exportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export a JSON snapshot of all entries",
	Long: `Writes an atomic JSON snapshot ({version, timestamp, entries, facets})
to the given path.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	return withApplication(func(ctx context.Context, a *app.Application) error {
		if err := a.Registry().ExportJSON(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", args[0])
		return nil
	})
}

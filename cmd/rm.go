package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hyperregistry/internal/api"
	"hyperregistry/internal/app"
)

var rmForce bool

// rmCmd deletes an entry by id.
var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an entry",
	Long: `Deletes an entry by id. Refused when other entries depend on it
unless --force is given; forced deletes leave dependents' dependency
lists untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

func init() {
	rmCmd.Flags().BoolVar(&rmForce, "force", false, "Delete even when dependents exist")
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	return withApplication(func(ctx context.Context, a *app.Application) error {
		if err := a.Registry().Delete(ctx, args[0], api.DeleteOptions{Force: rmForce}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	})
}

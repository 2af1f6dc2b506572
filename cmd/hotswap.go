package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hyperregistry/internal/api"
	"hyperregistry/internal/app"
)

var hotswapTo string

// hotswapCmd replaces an entry's active version.
var hotswapCmd = &cobra.Command{
	Use:   "hotswap <entry-id> --to <version>",
	Short: "Replace an entry's active version",
	Long: `Stages a copy of the entry at the given version, drains the old one,
switches the name@namespace alias, and verifies. A failed verification
rolls back automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runHotswap,
}

func init() {
	hotswapCmd.Flags().StringVar(&hotswapTo, "to", "", "Target version")
	hotswapCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(hotswapCmd)
}

func runHotswap(cmd *cobra.Command, args []string) error {
	return withApplication(func(ctx context.Context, a *app.Application) error {
		old, err := a.Registry().Get(ctx, args[0])
		if err != nil {
			return err
		}

		candidate := old.Clone()
		candidate.ID = ""
		candidate.Version = hotswapTo
		candidate.Status = ""
		if err := candidate.RefreshChecksum(); err != nil {
			return err
		}

		transitionID, err := api.GetHotSwap().Swap(ctx, api.HotSwapRequest{
			EntryID:  old.ID,
			NewEntry: candidate,
		})
		if err != nil {
			return err
		}

		tr, err := api.GetHotSwap().GetTransition(transitionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Transition %s: %s -> %s (%s)\n",
			tr.TransitionID, tr.FromVersion, tr.ToVersion, tr.Phase)
		return nil
	})
}

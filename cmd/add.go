package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"hyperregistry/internal/api"
	"hyperregistry/internal/app"
)

var addFile string

// addCmd registers an entry from a JSON document.
var addCmd = &cobra.Command{
	Use:   "add [namespace] [name] [version] [category]",
	Short: "Register a new entry",
	Long: `Registers an entry. Either pass the identity as arguments for a bare
entry, or --file with a full entry JSON document (use "-" for stdin).`,
	Args: cobra.MaximumNArgs(4),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addFile, "file", "f", "", "Entry JSON document ( - for stdin)")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	return withApplication(func(ctx context.Context, a *app.Application) error {
		entry, err := entryFromInput(cmd, args)
		if err != nil {
			return err
		}
		if err := a.Registry().Register(ctx, entry); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), entry.ID)
		return nil
	})
}

func entryFromInput(cmd *cobra.Command, args []string) (*api.Entry, error) {
	if addFile != "" {
		var rd io.Reader = cmd.InOrStdin()
		if addFile != "-" {
			f, err := os.Open(addFile)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			rd = f
		}
		var entry api.Entry
		if err := json.NewDecoder(rd).Decode(&entry); err != nil {
			return nil, api.NewValidationError("entry", []string{"malformed entry document: " + err.Error()})
		}
		return &entry, nil
	}

	if len(args) != 4 {
		return nil, api.NewValidationError("entry",
			[]string{"expected namespace, name, version, and category arguments (or --file)"})
	}
	return api.NewEntry(args[0], args[1], args[2], api.Category(args[3]))
}

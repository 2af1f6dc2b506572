package cmd

import (
	"context"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"hyperregistry/internal/api"
	"hyperregistry/internal/app"
	"hyperregistry/internal/config"
	pkgstrings "hyperregistry/pkg/strings"
)

// configPath overrides the config directory for all commands.
var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "",
		"Configuration directory (default: REGISTRY_CONFIG_DIR or ~/.hyperreg)")
}

func resolveConfigDir() string {
	if configPath != "" {
		return configPath
	}
	return config.GetDefaultConfigPathOrPanic()
}

// withApplication wires the stack against the local store, runs fn, and
// tears down. The non-serve commands all go through here.
func withApplication(fn func(ctx context.Context, a *app.Application) error) error {
	dir := resolveConfigDir()
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(context.Background(), a)
}

// renderEntries prints entries as the standard table.
func renderEntries(out io.Writer, entries []*api.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"ID", "NAMESPACE", "NAME", "VERSION", "CATEGORY", "STATUS", "DESCRIPTION"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			pkgstrings.ShortID(e.ID), e.Namespace, e.Name, e.Version, e.Category, e.Status,
			pkgstrings.TruncateDescription(entryDescription(e), pkgstrings.DefaultDescriptionMaxLen),
		})
	}
	t.Render()
}

func entryDescription(e *api.Entry) string {
	if e.Metadata == nil {
		return ""
	}
	if d, ok := e.Metadata["description"].(string); ok {
		return d
	}
	return ""
}


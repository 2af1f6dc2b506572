package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hyperregistry/internal/api"
	"hyperregistry/internal/app"
)

var (
	searchNamespace string
	searchFacets    []string
	searchLimit     int
)

// searchCmd searches entries by substring and facets.
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search entries",
	Long: `Searches entries. The query is matched as a substring against name
and namespace; --facet key=value filters the facet index (repeatable;
facets AND across keys and OR within a repeated key).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchNamespace, "namespace", "", "Filter by namespace")
	searchCmd.Flags().StringArrayVar(&searchFacets, "facet", nil, "Facet filter key=value (repeatable)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum number of hits (0 = unlimited)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	facets, err := parseFacetFlags(searchFacets)
	if err != nil {
		return err
	}

	return withApplication(func(ctx context.Context, a *app.Application) error {
		entries, err := a.Registry().Search(ctx, api.SearchFilters{
			Namespace: searchNamespace,
			Facets:    facets,
		})
		if err != nil {
			return err
		}

		var query string
		if len(args) == 1 {
			query = strings.ToLower(args[0])
		}
		var hits []*api.Entry
		for _, e := range entries {
			if query != "" &&
				!strings.Contains(strings.ToLower(e.Name), query) &&
				!strings.Contains(strings.ToLower(e.Namespace), query) {
				continue
			}
			hits = append(hits, e)
			if searchLimit > 0 && len(hits) == searchLimit {
				break
			}
		}

		renderEntries(cmd.OutOrStdout(), hits)
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries\n", len(hits))
		return nil
	})
}

func parseFacetFlags(pairs []string) (map[string][]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	facets := make(map[string][]string)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			return nil, api.NewValidationError("search", []string{"facet filter must be key=value, got " + pair})
		}
		facets[key] = append(facets[key], value)
	}
	return facets, nil
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpusd/corpusd/internal/client"
)

var (
	searchStore    string
	searchLanguage string
	searchLimit    int
	searchMode     string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the document corpus",
	Long: `Search ready documents in a store by semantic similarity.

Returns matching chunks ranked by similarity, with their document and
page so the source can be cited.

Examples:
  corpusctl search "retention policy" --store legal
  corpusctl search "kubernetes upgrades" --store runbooks --limit 3
  corpusctl search "quarterly numbers" --store reports --mode remote`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchStore, "store", "s", "", "store to search (required)")
	searchCmd.Flags().StringVarP(&searchLanguage, "language", "l", "", "query language (default en)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "max results")
	searchCmd.Flags().StringVar(&searchMode, "mode", "local", "search mode: local or remote")
	searchCmd.MarkFlagRequired("store")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	ctx := context.Background()

	matches, err := apiClient.Search(ctx, client.SearchRequest{
		StoreRef: searchStore,
		Query:    query,
		Language: searchLanguage,
		TopK:     searchLimit,
		Mode:     searchMode,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(matches) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results:\n\n", len(matches))
	for i, match := range matches {
		fmt.Printf("%d. [%.4f] page %d of %s\n", i+1, match.Similarity, match.PageNumber, match.DocumentID)
		text := match.Text
		if !verbose && len(text) > 200 {
			text = text[:200] + "..."
		}
		fmt.Printf("   %s\n\n", text)
	}
	return nil
}

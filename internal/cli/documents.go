package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corpusd/corpusd/internal/models"
)

var documentsStore string

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List documents in a store",
	Long: `List your documents in a store with their indexing state.

Examples:
  corpusctl documents --store research
  corpusctl documents --store research --verbose`,
	RunE: runDocuments,
}

func init() {
	documentsCmd.Flags().StringVarP(&documentsStore, "store", "s", "", "store to list (required)")
	documentsCmd.MarkFlagRequired("store")
}

func runDocuments(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	docs, err := apiClient.ListDocuments(ctx, documentsStore)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if len(docs) == 0 {
		fmt.Printf("No documents in store %q.\n", documentsStore)
		return nil
	}

	fmt.Printf("%d documents in %q:\n\n", len(docs), documentsStore)
	for _, doc := range docs {
		fmt.Printf("%-40s %-10s %s\n", doc.Filename, doc.State, stateDetail(doc))
		if verbose {
			fmt.Printf("  id: %s  pages: %d  chunks: %d  size: %d bytes\n",
				models.MustRecordIDString(doc.ID), doc.PageCount, doc.ChunkCount, doc.FileSize)
		}
	}
	return nil
}

func stateDetail(doc models.Document) string {
	switch doc.State {
	case models.StateIndexing, models.StateUploading:
		return fmt.Sprintf("%d%%", doc.Progress)
	case models.StateFailed:
		if doc.LastError != nil {
			return *doc.LastError
		}
	}
	return ""
}

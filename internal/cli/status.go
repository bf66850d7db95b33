package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show the ingestion status of a document",
	Long: `Show a document's ingestion status.

With --watch, follows the status until the document is ready or failed.

Examples:
  corpusctl status 3f2a9c1e-...
  corpusctl status 3f2a9c1e-... --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "follow until terminal state")
}

func runStatus(cmd *cobra.Command, args []string) error {
	documentID := args[0]

	if statusWatch {
		return RunStatusProgress(apiClient, documentID)
	}

	status, err := apiClient.Status(context.Background(), documentID)
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}

	fmt.Printf("%-10s %3d%%  %s\n", status.State, status.Progress, status.Message)
	if status.Error != nil {
		fmt.Printf("error: %s\n", *status.Error)
	}
	if status.RetryCount > 0 {
		fmt.Printf("retries: %d\n", status.RetryCount)
	}
	return nil
}

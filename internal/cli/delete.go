package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document",
	Long: `Delete a document, its chunks and its remote index copy.

Examples:
  corpusctl delete 3f2a9c1e-...
  corpusctl delete 3f2a9c1e-... --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	documentID := args[0]

	if !deleteForce {
		fmt.Printf("Delete document %s? [y/N]: ", documentID)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := apiClient.Delete(context.Background(), documentID); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Printf("Deleted %s\n", documentID)
	return nil
}

// Package cli provides the command-line interface for corpusd.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corpusd/corpusd/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	ownerID   string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "corpusctl",
	Short: "Document corpus ingestion and retrieval",
	Long: `Corpusctl talks to a corpusd server: upload documents into a store,
watch their indexing progress, search the corpus and manage documents.

Every document belongs to an owner and a store. The owner defaults to
the CORPUSD_OWNER environment variable.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		if ownerID == "" {
			ownerID = os.Getenv("CORPUSD_OWNER")
		}
		if ownerID == "" {
			return fmt.Errorf("owner id required: set --owner or CORPUSD_OWNER")
		}

		apiClient = client.New(serverURL, ownerID)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "corpusd server URL (default CORPUSD_SERVER_URL or http://localhost:8184)")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", "", "owner id (default CORPUSD_OWNER)")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(deleteCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corpusd/corpusd/internal/chunker"
	"github.com/corpusd/corpusd/internal/client"
)

var (
	uploadStore    string
	uploadLanguage string
	uploadMime     string
	uploadPages    string
	uploadNoWatch  bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document for ingestion",
	Long: `Upload a document into a store and index it.

Plain text and Markdown files are sent as a single page. For binary
formats like PDF, pass the extracted page text as a JSON file via
--pages ([{"number":1,"text":"..."}]).

Examples:
  corpusctl upload notes.md --store research
  corpusctl upload report.pdf --store research --pages report-pages.json
  corpusctl upload handbuch.txt --store docs --language de`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadStore, "store", "s", "", "target store (required)")
	uploadCmd.Flags().StringVarP(&uploadLanguage, "language", "l", "", "document language (default en)")
	uploadCmd.Flags().StringVar(&uploadMime, "mime", "", "mime type (default inferred from extension)")
	uploadCmd.Flags().StringVar(&uploadPages, "pages", "", "JSON file with extracted page text")
	uploadCmd.Flags().BoolVar(&uploadNoWatch, "no-watch", false, "return immediately instead of watching progress")
	uploadCmd.MarkFlagRequired("store")
}

// mimeByExtension maps known file extensions to their mime types.
var mimeByExtension = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx := context.Background()

	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	mimeType := uploadMime
	if mimeType == "" {
		mimeType = mimeByExtension[strings.ToLower(filepath.Ext(path))]
	}
	if mimeType == "" {
		return fmt.Errorf("cannot infer mime type for %s, pass --mime", path)
	}

	pages, err := loadPages(path, mimeType, payload)
	if err != nil {
		return err
	}

	result, err := apiClient.Upload(ctx, client.UploadRequest{
		StoreRef: uploadStore,
		Filename: filepath.Base(path),
		MimeType: mimeType,
		Language: uploadLanguage,
		Pages:    pages,
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	documentID := result.Job.DocumentID
	fmt.Printf("Accepted %s (document %s)\n", filepath.Base(path), documentID)

	if uploadNoWatch {
		fmt.Printf("Check progress with 'corpusctl status %s'\n", documentID)
		return nil
	}
	return RunStatusProgress(apiClient, documentID)
}

// loadPages builds the page list: from the --pages JSON file when given,
// otherwise from the raw content of text-like formats.
func loadPages(path, mimeType string, payload []byte) ([]chunker.Page, error) {
	if uploadPages != "" {
		raw, err := os.ReadFile(uploadPages)
		if err != nil {
			return nil, fmt.Errorf("read pages file: %w", err)
		}
		var pages []chunker.Page
		if err := json.Unmarshal(raw, &pages); err != nil {
			return nil, fmt.Errorf("parse pages file: %w", err)
		}
		return pages, nil
	}

	if strings.HasPrefix(mimeType, "text/") {
		return []chunker.Page{{Number: 1, Text: string(payload)}}, nil
	}
	return nil, fmt.Errorf("%s needs extracted page text, pass --pages", path)
}

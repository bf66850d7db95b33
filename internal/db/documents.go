package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/corpusd/corpusd/internal/models"
)

// QueryCreateDocument creates a document record in the queued state.
func (c *Client) QueryCreateDocument(ctx context.Context, id string, input models.DocumentInput, maxRetries int) (*models.Document, error) {
	language := input.Language
	if language == "" {
		language = "en"
	}

	sql := `
		CREATE type::record("document", $id) SET
			owner_id = $owner_id,
			store_ref = $store_ref,
			filename = $filename,
			mime_type = $mime_type,
			file_size = $file_size,
			language = $language,
			page_count = $page_count,
			state = "queued",
			progress = 0,
			max_retries = $max_retries
		RETURN AFTER
	`

	results, err := surrealdb.Query[[]models.Document](ctx, c.db, sql, map[string]any{
		"id":          id,
		"owner_id":    input.OwnerID,
		"store_ref":   input.StoreRef,
		"filename":    input.Filename,
		"mime_type":   input.MimeType,
		"file_size":   input.FileSize,
		"language":    language,
		"page_count":  input.PageCount,
		"max_retries": maxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create document: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// QueryGetDocument retrieves a document by ID. Returns ErrNotFound for
// missing or soft-deleted documents.
func (c *Client) QueryGetDocument(ctx context.Context, id string) (*models.Document, error) {
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT * FROM type::record("document", $id) WHERE !deleted
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get document: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// QueryListDocuments returns the owner's documents for a store, newest
// first. Soft-deleted documents are excluded.
func (c *Client) QueryListDocuments(ctx context.Context, ownerID, storeRef string) ([]models.Document, error) {
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT * FROM document
		WHERE owner_id = $owner_id AND store_ref = $store_ref AND !deleted
		ORDER BY queued_at DESC
	`, map[string]any{
		"owner_id":  ownerID,
		"store_ref": storeRef,
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Document{}, nil
	}
	return (*results)[0].Result, nil
}

// DocumentUpdate carries the mutable state-machine fields. Nil pointers
// leave the stored value untouched.
type DocumentUpdate struct {
	State             *models.DocumentState
	Progress          *int
	RetryCount        *int
	ChunkCount        *int
	OperationRef      *string
	RemoteDocumentRef *string
	LastError         *string
	MarkStarted       bool
	MarkCompleted     bool
}

// QueryUpdateDocument applies a partial update to the document record.
func (c *Client) QueryUpdateDocument(ctx context.Context, id string, update DocumentUpdate) (*models.Document, error) {
	sets := []string{}
	vars := map[string]any{"id": id}

	add := func(clause, name string, value any) {
		sets = append(sets, clause)
		vars[name] = value
	}

	if update.State != nil {
		add("state = $state", "state", string(*update.State))
	}
	if update.Progress != nil {
		add("progress = $progress", "progress", *update.Progress)
	}
	if update.RetryCount != nil {
		add("retry_count = $retry_count", "retry_count", *update.RetryCount)
	}
	if update.ChunkCount != nil {
		add("chunk_count = $chunk_count", "chunk_count", *update.ChunkCount)
	}
	if update.OperationRef != nil {
		add("operation_ref = $operation_ref", "operation_ref", *update.OperationRef)
	}
	if update.RemoteDocumentRef != nil {
		add("remote_document_ref = $remote_ref", "remote_ref", *update.RemoteDocumentRef)
	}
	if update.LastError != nil {
		add("last_error = $last_error", "last_error", *update.LastError)
	}
	if update.MarkStarted {
		sets = append(sets, "started_at = time::now()")
	}
	if update.MarkCompleted {
		sets = append(sets, "completed_at = time::now()")
	}

	if len(sets) == 0 {
		return c.QueryGetDocument(ctx, id)
	}

	sql := `UPDATE type::record("document", $id) SET ` + strings.Join(sets, ", ") + ` RETURN AFTER`
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("update document: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// QuerySoftDeleteDocument marks a document as deleted without removing
// the record. Chunks are removed separately.
func (c *Client) QuerySoftDeleteDocument(ctx context.Context, id string) error {
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		UPDATE type::record("document", $id) SET
			deleted = true,
			deleted_at = time::now()
		RETURN AFTER
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("soft delete document: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// QueryReadyDocumentIDs returns the record IDs of ready documents in a
// store owned by ownerID. Used to restrict retrieval to indexed content.
func (c *Client) QueryReadyDocumentIDs(ctx context.Context, ownerID, storeRef string) ([]models.Document, error) {
	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT id FROM document
		WHERE owner_id = $owner_id AND store_ref = $store_ref
			AND state = "ready" AND !deleted
	`, map[string]any{
		"owner_id":  ownerID,
		"store_ref": storeRef,
	})
	if err != nil {
		return nil, fmt.Errorf("ready document ids: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Document{}, nil
	}
	return (*results)[0].Result, nil
}

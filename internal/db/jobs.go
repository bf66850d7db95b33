package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/corpusd/corpusd/internal/models"
)

// QueryCreateIngestJob persists a new job record keyed by document ID,
// so a document can never carry two live jobs. Returns ErrAlreadyExists
// when a job record for the document is already present.
func (c *Client) QueryCreateIngestJob(ctx context.Context, job models.IngestJob) (*models.IngestJob, error) {
	sql := `
		CREATE type::record("ingest_job", $id) SET
			document_id = $document_id,
			owner_id = $owner_id,
			store_ref = $store_ref,
			payload_ref = $payload_ref,
			filename = $filename,
			mime_type = $mime_type,
			file_size = $file_size,
			state = "queued",
			progress = 0,
			max_retries = $max_retries
		RETURN AFTER
	`

	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, sql, map[string]any{
		"id":          job.DocumentID,
		"document_id": job.DocumentID,
		"owner_id":    job.OwnerID,
		"store_ref":   job.StoreRef,
		"payload_ref": job.PayloadRef,
		"filename":    job.Filename,
		"mime_type":   job.MimeType,
		"file_size":   job.FileSize,
		"max_retries": job.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create ingest job: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create ingest job: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// QueryGetIngestJob retrieves the job for a document.
func (c *Client) QueryGetIngestJob(ctx context.Context, documentID string) (*models.IngestJob, error) {
	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, `
		SELECT * FROM type::record("ingest_job", $id)
	`, map[string]any{"id": documentID})
	if err != nil {
		return nil, fmt.Errorf("get ingest job: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("ingest job %s: %w", documentID, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// JobUpdate carries the mutable job fields. Nil pointers leave the
// stored value untouched.
type JobUpdate struct {
	State             *models.DocumentState
	Progress          *int
	RetryCount        *int
	OperationRef      *string
	RemoteDocumentRef *string
	LastError         *string
	MarkStarted       bool
	MarkCompleted     bool
}

// QueryUpdateIngestJob applies a partial update to the job record.
func (c *Client) QueryUpdateIngestJob(ctx context.Context, documentID string, update JobUpdate) (*models.IngestJob, error) {
	sets := []string{}
	vars := map[string]any{"id": documentID}

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
		return c.QueryGetIngestJob(ctx, documentID)
	}

	sql := `UPDATE type::record("ingest_job", $id) SET ` + strings.Join(sets, ", ") + ` RETURN AFTER`
	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("update ingest job: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("ingest job %s: %w", documentID, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// QueryListIncompleteJobs returns jobs that have not reached a terminal
// state, oldest first. Used on startup to resume interrupted work.
func (c *Client) QueryListIncompleteJobs(ctx context.Context) ([]models.IngestJob, error) {
	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, `
		SELECT * FROM ingest_job
		WHERE state NOT IN ["ready", "failed"]
		ORDER BY queued_at ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list incomplete jobs: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.IngestJob{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryDeleteIngestJob removes a job record.
func (c *Client) QueryDeleteIngestJob(ctx context.Context, documentID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("ingest_job", $id)
	`, map[string]any{"id": documentID})
	if err != nil {
		return fmt.Errorf("delete ingest job: %w", wrapQueryError(err))
	}
	return nil
}

// SweepResult reports what a retention sweep removed.
type SweepResult struct {
	Completed int
	Failed    int
}

// QuerySweepJobs enforces job retention: completed jobs older than
// completedRetention (or beyond the newest completedKeep) and failed
// jobs older than failedRetention are deleted.
func (c *Client) QuerySweepJobs(
	ctx context.Context,
	completedRetention time.Duration,
	completedKeep int,
	failedRetention time.Duration,
) (SweepResult, error) {
	var result SweepResult

	completedCutoff := time.Now().Add(-completedRetention)
	results, err := surrealdb.Query[[]models.IngestJob](ctx, c.db, `
		DELETE ingest_job
		WHERE state = "ready" AND completed_at != NONE AND completed_at < $cutoff
		RETURN BEFORE
	`, map[string]any{"cutoff": completedCutoff})
	if err != nil {
		return result, fmt.Errorf("sweep completed jobs: %w", wrapQueryError(err))
	}
	if results != nil && len(*results) > 0 {
		result.Completed = len((*results)[0].Result)
	}

	// Cap the retained completed jobs regardless of age
	if completedKeep > 0 {
		results, err = surrealdb.Query[[]models.IngestJob](ctx, c.db, `
			DELETE ingest_job
			WHERE state = "ready" AND id NOT IN (
				SELECT VALUE id FROM ingest_job
				WHERE state = "ready"
				ORDER BY completed_at DESC
				LIMIT $keep
			)
			RETURN BEFORE
		`, map[string]any{"keep": completedKeep})
		if err != nil {
			return result, fmt.Errorf("cap completed jobs: %w", wrapQueryError(err))
		}
		if results != nil && len(*results) > 0 {
			result.Completed += len((*results)[0].Result)
		}
	}

	failedCutoff := time.Now().Add(-failedRetention)
	results, err = surrealdb.Query[[]models.IngestJob](ctx, c.db, `
		DELETE ingest_job
		WHERE state = "failed" AND completed_at != NONE AND completed_at < $cutoff
		RETURN BEFORE
	`, map[string]any{"cutoff": failedCutoff})
	if err != nil {
		return result, fmt.Errorf("sweep failed jobs: %w", wrapQueryError(err))
	}
	if results != nil && len(*results) > 0 {
		result.Failed = len((*results)[0].Result)
	}

	return result, nil
}

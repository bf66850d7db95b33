// Package service provides the business logic for document ingestion
// and retrieval.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/corpusd/corpusd/internal/db"
	"github.com/corpusd/corpusd/internal/models"
)

// JobStore is the persistence surface the tracker needs. *db.Client
// satisfies it.
type JobStore interface {
	QueryGetIngestJob(ctx context.Context, documentID string) (*models.IngestJob, error)
	QueryUpdateIngestJob(ctx context.Context, documentID string, update db.JobUpdate) (*models.IngestJob, error)
	QueryUpdateDocument(ctx context.Context, id string, update db.DocumentUpdate) (*models.Document, error)
}

// trackedJob is the in-memory mirror of one job's persisted state.
type trackedJob struct {
	status     models.JobStatus
	maxRetries int
}

// JobTracker owns job state transitions. It keeps an in-memory map for
// fast reads and writes every change through to both the job record and
// the document record, which always move together.
type JobTracker struct {
	mu     sync.RWMutex
	jobs   map[string]*trackedJob
	store  JobStore
	logger *slog.Logger
}

// NewJobTracker creates a tracker.
func NewJobTracker(store JobStore, logger *slog.Logger) *JobTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobTracker{
		jobs:   make(map[string]*trackedJob),
		store:  store,
		logger: logger,
	}
}

// Register seeds the tracker with a freshly enqueued job.
func (t *JobTracker) Register(job *models.IngestJob) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.jobs[job.DocumentID] = &trackedJob{
		status: models.JobStatus{
			DocumentID: job.DocumentID,
			State:      job.State,
			Progress:   job.Progress,
			Message:    stateMessage(job.State, nil),
			RetryCount: job.RetryCount,
			Timestamp:  time.Now(),
		},
		maxRetries: job.MaxRetries,
	}
}

// ensure returns the tracked job, loading the persisted record on a
// miss. Jobs resumed from a previous process enter the tracker here.
func (t *JobTracker) ensure(ctx context.Context, documentID string) (*trackedJob, error) {
	t.mu.RLock()
	job, ok := t.jobs[documentID]
	t.mu.RUnlock()
	if ok {
		return job, nil
	}

	record, err := t.store.QueryGetIngestJob(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("job %s not tracked: %w", documentID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.jobs[documentID]; ok {
		return existing, nil
	}
	job = &trackedJob{status: recordStatus(record), maxRetries: record.MaxRetries}
	t.jobs[documentID] = job
	return job, nil
}

// Begin moves queued → uploading and records the start time.
func (t *JobTracker) Begin(ctx context.Context, documentID string) (models.JobStatus, error) {
	progress := 5
	return t.transition(ctx, documentID, models.StateUploading, db.JobUpdate{
		Progress:    &progress,
		MarkStarted: true,
	}, nil)
}

// Submitted moves uploading → indexing and stores the operation ref.
func (t *JobTracker) Submitted(ctx context.Context, documentID, operationRef string) (models.JobStatus, error) {
	progress := 20
	return t.transition(ctx, documentID, models.StateIndexing, db.JobUpdate{
		Progress:     &progress,
		OperationRef: &operationRef,
	}, nil)
}

// Polling bumps progress within the indexing state. Progress never
// decreases.
func (t *JobTracker) Polling(ctx context.Context, documentID string, progress int) (models.JobStatus, error) {
	job, err := t.ensure(ctx, documentID)
	if err != nil {
		return models.JobStatus{}, err
	}
	if job.status.State != models.StateIndexing {
		return models.JobStatus{}, fmt.Errorf("job %s: progress update in state %s", documentID, job.status.State)
	}

	if progress < job.status.Progress {
		progress = job.status.Progress
	}
	if progress > 100 {
		progress = 100
	}

	return t.persist(ctx, documentID, models.StateIndexing, db.JobUpdate{Progress: &progress}, nil)
}

// Ready finishes the job successfully.
func (t *JobTracker) Ready(ctx context.Context, documentID, remoteDocumentRef string) (models.JobStatus, error) {
	progress := 100
	return t.transition(ctx, documentID, models.StateReady, db.JobUpdate{
		Progress:          &progress,
		RemoteDocumentRef: &remoteDocumentRef,
		MarkCompleted:     true,
	}, nil)
}

// Fail finishes the job terminally. The failed attempt counts toward
// the retry total, so a job that exhausts its budget records maxRetries
// attempts, not maxRetries-1.
func (t *JobTracker) Fail(ctx context.Context, documentID string, cause error) (models.JobStatus, error) {
	job, err := t.ensure(ctx, documentID)
	if err != nil {
		return models.JobStatus{}, err
	}

	retries := job.status.RetryCount + 1
	msg := cause.Error()
	return t.transition(ctx, documentID, models.StateFailed, db.JobUpdate{
		RetryCount:    &retries,
		LastError:     &msg,
		MarkCompleted: true,
	}, &msg)
}

// Requeue resets a job for another attempt and increments the retry
// counter. This is an explicit reset, not a state-machine transition:
// the forward-only rule applies within a single attempt.
func (t *JobTracker) Requeue(ctx context.Context, documentID string, cause error) (models.JobStatus, error) {
	job, err := t.ensure(ctx, documentID)
	if err != nil {
		return models.JobStatus{}, err
	}
	if job.status.State.Terminal() {
		return models.JobStatus{}, fmt.Errorf("job %s: cannot requeue terminal state %s", documentID, job.status.State)
	}

	retries := job.status.RetryCount + 1
	if retries >= job.maxRetries {
		return models.JobStatus{}, fmt.Errorf("job %s: retry limit %d reached", documentID, job.maxRetries)
	}

	progress := 0
	msg := cause.Error()
	return t.persist(ctx, documentID, models.StateQueued, db.JobUpdate{
		Progress:   &progress,
		RetryCount: &retries,
		LastError:  &msg,
	}, &msg)
}

// Status returns the in-memory snapshot for a document.
func (t *JobTracker) Status(documentID string) (models.JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[documentID]
	if !ok {
		return models.JobStatus{}, false
	}
	return job.status, true
}

// StatusOrLoad returns the tracked status, falling back to the
// persisted record when the job predates this process.
func (t *JobTracker) StatusOrLoad(ctx context.Context, documentID string) (models.JobStatus, error) {
	if status, ok := t.Status(documentID); ok {
		return status, nil
	}

	record, err := t.store.QueryGetIngestJob(ctx, documentID)
	if err != nil {
		return models.JobStatus{}, err
	}
	return recordStatus(record), nil
}

// Snapshot returns all tracked jobs, most recent change first.
func (t *JobTracker) Snapshot() []models.JobStatus {
	t.mu.RLock()
	statuses := make([]models.JobStatus, 0, len(t.jobs))
	for _, job := range t.jobs {
		statuses = append(statuses, job.status)
	}
	t.mu.RUnlock()

	slices.SortFunc(statuses, func(a, b models.JobStatus) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return statuses
}

// transition validates the state change against the forward-only rules,
// then persists it.
func (t *JobTracker) transition(ctx context.Context, documentID string, to models.DocumentState, update db.JobUpdate, errMsg *string) (models.JobStatus, error) {
	job, err := t.ensure(ctx, documentID)
	if err != nil {
		return models.JobStatus{}, err
	}

	from := job.status.State
	if !from.CanTransition(to) {
		return models.JobStatus{}, fmt.Errorf("job %s: illegal transition %s → %s", documentID, from, to)
	}

	update.State = &to
	return t.persist(ctx, documentID, to, update, errMsg)
}

// persist writes the update to the job and document records, then
// refreshes the in-memory mirror.
func (t *JobTracker) persist(ctx context.Context, documentID string, state models.DocumentState, update db.JobUpdate, errMsg *string) (models.JobStatus, error) {
	if update.State == nil {
		update.State = &state
	}

	record, err := t.store.QueryUpdateIngestJob(ctx, documentID, update)
	if err != nil {
		return models.JobStatus{}, fmt.Errorf("persist job: %w", err)
	}

	// The document record mirrors the job so listings stay truthful
	_, err = t.store.QueryUpdateDocument(ctx, documentID, db.DocumentUpdate{
		State:             update.State,
		Progress:          update.Progress,
		RetryCount:        update.RetryCount,
		OperationRef:      update.OperationRef,
		RemoteDocumentRef: update.RemoteDocumentRef,
		LastError:         update.LastError,
		MarkStarted:       update.MarkStarted,
		MarkCompleted:     update.MarkCompleted,
	})
	if err != nil {
		t.logger.Warn("failed to mirror job state onto document",
			"document_id", documentID, "error", err)
	}

	status := recordStatus(record)
	if errMsg != nil {
		status.Error = errMsg
	}

	t.mu.Lock()
	if job, ok := t.jobs[documentID]; ok {
		job.status = status
	}
	t.mu.Unlock()

	t.logger.Debug("job state persisted",
		"document_id", documentID, "state", state, "progress", status.Progress)
	return status, nil
}

func recordStatus(record *models.IngestJob) models.JobStatus {
	return models.JobStatus{
		DocumentID:        record.DocumentID,
		State:             record.State,
		Progress:          record.Progress,
		Message:           stateMessage(record.State, record.LastError),
		RemoteDocumentRef: record.RemoteDocumentRef,
		Error:             record.LastError,
		RetryCount:        record.RetryCount,
		Timestamp:         time.Now(),
	}
}

func stateMessage(state models.DocumentState, lastError *string) string {
	switch state {
	case models.StateQueued:
		return "Waiting in queue..."
	case models.StateUploading:
		return "Uploading to search index..."
	case models.StateIndexing:
		return "Indexing document..."
	case models.StateReady:
		return "Document ready"
	case models.StateFailed:
		if lastError != nil {
			return *lastError
		}
		return "Upload failed"
	}
	return string(state)
}

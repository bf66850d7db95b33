package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corpusd/corpusd/internal/metrics"
	"github.com/corpusd/corpusd/internal/models"
	"github.com/corpusd/corpusd/internal/searchindex"
)

// Tracker persists job state transitions and returns the resulting
// status snapshot. Implemented by service.JobTracker.
type Tracker interface {
	// Begin moves queued → uploading and records the start time.
	Begin(ctx context.Context, documentID string) (models.JobStatus, error)
	// Submitted moves uploading → indexing and stores the operation ref.
	Submitted(ctx context.Context, documentID, operationRef string) (models.JobStatus, error)
	// Polling bumps progress within the indexing state.
	Polling(ctx context.Context, documentID string, progress int) (models.JobStatus, error)
	// Ready finishes the job successfully.
	Ready(ctx context.Context, documentID, remoteDocumentRef string) (models.JobStatus, error)
	// Fail finishes the job terminally.
	Fail(ctx context.Context, documentID string, cause error) (models.JobStatus, error)
	// Requeue resets the job for another attempt and increments the
	// retry counter.
	Requeue(ctx context.Context, documentID string, cause error) (models.JobStatus, error)
}

// Worker runs a single ingestion job end to end: upload the payload to
// the remote index, then poll the resulting operation until it finishes
// or the polling budget runs out.
type Worker struct {
	index        searchindex.Client
	tracker      Tracker
	bus          *Bus
	pollInterval time.Duration
	pollBudget   int
	collectors   *metrics.Metrics
	logger       *slog.Logger
}

// NewWorker creates a Worker. collectors may be nil.
func NewWorker(index searchindex.Client, tracker Tracker, bus *Bus, pollInterval time.Duration, pollBudget int, collectors *metrics.Metrics, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if pollBudget <= 0 {
		pollBudget = 40
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		index:        index,
		tracker:      tracker,
		bus:          bus,
		pollInterval: pollInterval,
		pollBudget:   pollBudget,
		collectors:   collectors,
		logger:       logger,
	}
}

// Run executes one attempt of the job. A nil return means the document
// reached ready; any error means the attempt failed and the queue
// decides whether to retry.
func (w *Worker) Run(ctx context.Context, job Job) error {
	start := time.Now()

	status, err := w.tracker.Begin(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	w.publish(EventTransition, job, status)

	operationRef, err := w.index.Upload(ctx, searchindex.UploadRequest{
		StoreRef:   job.StoreRef,
		PayloadRef: job.PayloadRef,
		Filename:   job.Filename,
		MimeType:   job.MimeType,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	status, err = w.tracker.Submitted(ctx, job.DocumentID, operationRef)
	if err != nil {
		return fmt.Errorf("submitted: %w", err)
	}
	w.publish(EventTransition, job, status)

	remoteRef, err := w.poll(ctx, job, operationRef)
	if err != nil {
		return err
	}

	status, err = w.tracker.Ready(ctx, job.DocumentID, remoteRef)
	if err != nil {
		return fmt.Errorf("ready: %w", err)
	}
	w.collectors.ObserveIndexing(time.Since(start))
	w.publish(EventCompleted, job, status)
	return nil
}

// poll watches the remote operation on a fixed interval until it
// finishes or the attempt budget is spent. Transient poll errors are
// logged and tolerated; they consume an attempt but do not fail the job.
func (w *Worker) poll(ctx context.Context, job Job, operationRef string) (string, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= w.pollBudget; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		op, err := w.index.Operation(ctx, operationRef)
		if err != nil {
			w.logger.Warn("operation poll failed",
				"document_id", job.DocumentID, "operation_ref", operationRef,
				"attempt", attempt, "error", err)
			continue
		}

		if !op.Done {
			status, err := w.tracker.Polling(ctx, job.DocumentID, pollProgress(attempt))
			if err != nil {
				w.logger.Warn("progress update failed",
					"document_id", job.DocumentID, "error", err)
				continue
			}
			w.publish(EventTransition, job, status)
			continue
		}

		if op.Failure != nil {
			return "", op.Failure
		}
		if op.DocumentRef == nil || *op.DocumentRef == "" {
			return "", fmt.Errorf("operation %s finished without a document reference", operationRef)
		}
		return *op.DocumentRef, nil
	}

	w.collectors.PollBudgetSpent()
	return "", fmt.Errorf("operation %s after %d polls: %w",
		operationRef, w.pollBudget, searchindex.ErrOperationTimeout)
}

// pollProgress maps a poll attempt to a progress value. Indexing starts
// at 20 and creeps toward 90; 100 is reserved for ready.
func pollProgress(attempt int) int {
	p := 20 + 2*attempt
	if p > 90 {
		p = 90
	}
	return p
}

func (w *Worker) publish(eventType EventType, job Job, status models.JobStatus) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(JobEvent{
		Type:     eventType,
		OwnerID:  job.OwnerID,
		StoreRef: job.StoreRef,
		Status:   status,
	})
}

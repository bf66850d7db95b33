// Package queue provides the durable ingestion job queue: jobs are
// persisted before dispatch, executed on a worker pool, retried with
// exponential backoff and swept out after their retention window.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"

	"github.com/corpusd/corpusd/internal/db"
	"github.com/corpusd/corpusd/internal/metrics"
	"github.com/corpusd/corpusd/internal/models"
)

// ErrQueueUnavailable indicates the queue cannot accept work, either
// because it is shut down or the job store is unreachable.
var ErrQueueUnavailable = errors.New("job queue unavailable")

// Store is the persistence surface the queue needs. *db.Client
// satisfies it.
type Store interface {
	QueryCreateIngestJob(ctx context.Context, job models.IngestJob) (*models.IngestJob, error)
	QueryGetIngestJob(ctx context.Context, documentID string) (*models.IngestJob, error)
	QueryDeleteIngestJob(ctx context.Context, documentID string) error
	QueryListIncompleteJobs(ctx context.Context) ([]models.IngestJob, error)
	QuerySweepJobs(ctx context.Context, completedRetention time.Duration, completedKeep int, failedRetention time.Duration) (db.SweepResult, error)
}

// Config holds queue tuning parameters.
type Config struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration

	CompletedRetention time.Duration
	CompletedKeep      int
	FailedRetention    time.Duration
	SweepInterval      time.Duration

	// Metrics receives queue gauge and counter updates. May be nil.
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 5
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 24 * time.Hour
	}
	if c.CompletedKeep <= 0 {
		c.CompletedKeep = 1000
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = 7 * 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	return c
}

// Queue dispatches persisted ingestion jobs onto a bounded worker pool.
type Queue struct {
	store   Store
	worker  *Worker
	tracker Tracker
	bus     *Bus
	cfg     Config
	pool    *ants.Pool
	logger  *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	active map[string]*jobRun
}

// jobRun is the in-memory retry state of one active job.
type jobRun struct {
	job     Job
	attempt int
	backoff *backoff.ExponentialBackOff
}

// New creates a Queue backed by an ants worker pool.
func New(store Store, worker *Worker, tracker Tracker, bus *Bus, cfg Config, logger *slog.Logger) (*Queue, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:   store,
		worker:  worker,
		tracker: tracker,
		bus:     bus,
		cfg:     cfg,
		pool:    pool,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		active:  map[string]*jobRun{},
	}, nil
}

// Enqueue validates and persists a job, then dispatches it. Enqueue is
// idempotent per document: re-submitting while a job is active returns
// the existing record instead of creating a duplicate.
func (q *Queue) Enqueue(ctx context.Context, job Job) (*models.IngestJob, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if _, running := q.active[job.DocumentID]; running {
		q.mu.Unlock()
		existing, err := q.store.QueryGetIngestJob(ctx, job.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
		}
		q.logger.Info("job already queued, returning existing",
			"document_id", job.DocumentID)
		return existing, nil
	}
	q.mu.Unlock()

	record, err := q.persist(ctx, job)
	if err != nil {
		return nil, err
	}
	if record == nil {
		// A live persisted job exists from a previous process
		existing, err := q.store.QueryGetIngestJob(ctx, job.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
		}
		return existing, nil
	}

	run := &jobRun{job: job, backoff: q.newBackoff()}

	q.mu.Lock()
	q.active[job.DocumentID] = run
	q.mu.Unlock()
	q.cfg.Metrics.JobStarted()

	if err := q.submit(run); err != nil {
		q.remove(job.DocumentID)
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return record, nil
}

// persist creates the job record. A stale terminal record for the same
// document is replaced; a live one yields (nil, nil) so the caller can
// adopt it.
func (q *Queue) persist(ctx context.Context, job Job) (*models.IngestJob, error) {
	record := models.IngestJob{
		DocumentID: job.DocumentID,
		OwnerID:    job.OwnerID,
		StoreRef:   job.StoreRef,
		PayloadRef: job.PayloadRef,
		Filename:   job.Filename,
		MimeType:   job.MimeType,
		FileSize:   job.FileSize,
		MaxRetries: q.cfg.MaxAttempts,
	}

	created, err := q.store.QueryCreateIngestJob(ctx, record)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, db.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	existing, err := q.store.QueryGetIngestJob(ctx, job.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	if !existing.State.Terminal() {
		return nil, nil
	}

	// Re-ingesting a finished document starts a fresh job
	if err := q.store.QueryDeleteIngestJob(ctx, job.DocumentID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	created, err = q.store.QueryCreateIngestJob(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return created, nil
}

// Resume re-dispatches jobs that were interrupted by a restart.
func (q *Queue) Resume(ctx context.Context) error {
	jobs, err := q.store.QueryListIncompleteJobs(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	for _, record := range jobs {
		job := Job{
			DocumentID: record.DocumentID,
			OwnerID:    record.OwnerID,
			StoreRef:   record.StoreRef,
			PayloadRef: record.PayloadRef,
			Filename:   record.Filename,
			MimeType:   record.MimeType,
			FileSize:   record.FileSize,
		}

		q.mu.Lock()
		if _, running := q.active[job.DocumentID]; running {
			q.mu.Unlock()
			continue
		}
		run := &jobRun{job: job, attempt: record.RetryCount, backoff: q.newBackoff()}
		q.active[job.DocumentID] = run
		q.mu.Unlock()
		q.cfg.Metrics.JobStarted()

		if err := q.submit(run); err != nil {
			q.remove(job.DocumentID)
			q.logger.Error("failed to resume job",
				"document_id", job.DocumentID, "error", err)
			continue
		}
		q.logger.Info("resumed interrupted job",
			"document_id", job.DocumentID, "retry_count", record.RetryCount)
	}
	return nil
}

func (q *Queue) submit(run *jobRun) error {
	return q.pool.Submit(func() {
		q.execute(run)
	})
}

// execute runs one attempt and decides between completion, a scheduled
// retry and terminal failure.
func (q *Queue) execute(run *jobRun) {
	err := q.worker.Run(q.baseCtx, run.job)
	if err == nil {
		q.remove(run.job.DocumentID)
		return
	}
	if q.baseCtx.Err() != nil {
		// Shutting down; the job stays incomplete and resumes next start
		return
	}

	run.attempt++
	q.logger.Warn("job attempt failed",
		"document_id", run.job.DocumentID, "attempt", run.attempt,
		"max_attempts", q.cfg.MaxAttempts, "error", err)

	if run.attempt >= q.cfg.MaxAttempts {
		q.cfg.Metrics.DocumentFailed()
		status, failErr := q.tracker.Fail(q.baseCtx, run.job.DocumentID, err)
		if failErr != nil {
			q.logger.Error("failed to mark job failed",
				"document_id", run.job.DocumentID, "error", failErr)
		} else {
			q.publish(EventFailed, run.job, status)
		}
		q.remove(run.job.DocumentID)
		return
	}

	status, requeueErr := q.tracker.Requeue(q.baseCtx, run.job.DocumentID, err)
	if requeueErr != nil {
		q.logger.Error("failed to requeue job",
			"document_id", run.job.DocumentID, "error", requeueErr)
		q.remove(run.job.DocumentID)
		return
	}
	q.cfg.Metrics.JobRetried()
	q.publish(EventTransition, run.job, status)

	delay := run.backoff.NextBackOff()
	q.logger.Info("scheduling retry",
		"document_id", run.job.DocumentID, "attempt", run.attempt, "delay", delay)

	// The retry waits on a timer, not on a pool worker
	time.AfterFunc(delay, func() {
		if q.baseCtx.Err() != nil {
			return
		}
		if err := q.submit(run); err != nil {
			q.logger.Error("failed to dispatch retry",
				"document_id", run.job.DocumentID, "error", err)
			q.remove(run.job.DocumentID)
		}
	})
}

// StartSweeper enforces job retention on a fixed interval until ctx is
// cancelled.
func (q *Queue) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(q.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := q.store.QuerySweepJobs(ctx,
					q.cfg.CompletedRetention, q.cfg.CompletedKeep, q.cfg.FailedRetention)
				if err != nil {
					q.logger.Error("job retention sweep failed", "error", err)
					continue
				}
				if result.Completed > 0 || result.Failed > 0 {
					q.logger.Info("job retention sweep",
						"completed_removed", result.Completed,
						"failed_removed", result.Failed)
				}
			}
		}
	}()
}

// ActiveCount returns how many jobs are queued or running.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Close stops accepting work and releases the pool. In-flight jobs are
// interrupted and resume on the next start.
func (q *Queue) Close() {
	q.cancel()
	q.pool.Release()
}

func (q *Queue) remove(documentID string) {
	q.mu.Lock()
	_, tracked := q.active[documentID]
	delete(q.active, documentID)
	q.mu.Unlock()
	if tracked {
		q.cfg.Metrics.JobFinished()
	}
}

func (q *Queue) publish(eventType EventType, job Job, status models.JobStatus) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(JobEvent{
		Type:     eventType,
		OwnerID:  job.OwnerID,
		StoreRef: job.StoreRef,
		Status:   status,
	})
}

func (q *Queue) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.BackoffBase
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxInterval = 10 * time.Minute
	b.MaxElapsedTime = 0
	return b
}

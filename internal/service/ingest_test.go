package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/corpusd/corpusd/internal/chunker"
	"github.com/corpusd/corpusd/internal/db"
	"github.com/corpusd/corpusd/internal/embedding"
	"github.com/corpusd/corpusd/internal/metrics"
	"github.com/corpusd/corpusd/internal/models"
	"github.com/corpusd/corpusd/internal/queue"
	"github.com/corpusd/corpusd/internal/searchindex"
)

// memoryStore is an in-memory stand-in for *db.Client covering the
// document, chunk and job surfaces the ingestion pipeline touches.
type memoryStore struct {
	mu     sync.Mutex
	docs   map[string]*models.Document
	chunks map[string][]models.ChunkInput
	jobs   map[string]*models.IngestJob
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		docs:   map[string]*models.Document{},
		chunks: map[string][]models.ChunkInput{},
		jobs:   map[string]*models.IngestJob{},
	}
}

func (s *memoryStore) QueryCreateDocument(ctx context.Context, id string, input models.DocumentInput, maxRetries int) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := &models.Document{
		ID:         surrealmodels.NewRecordID("document", id),
		OwnerID:    input.OwnerID,
		StoreRef:   input.StoreRef,
		Filename:   input.Filename,
		MimeType:   input.MimeType,
		FileSize:   input.FileSize,
		Language:   input.Language,
		PageCount:  input.PageCount,
		State:      models.StateQueued,
		MaxRetries: maxRetries,
		QueuedAt:   time.Now(),
	}
	s.docs[id] = doc
	copied := *doc
	return &copied, nil
}

func (s *memoryStore) QueryGetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.Deleted {
		return nil, db.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *memoryStore) QueryListDocuments(ctx context.Context, ownerID, storeRef string) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, doc := range s.docs {
		if doc.OwnerID == ownerID && doc.StoreRef == storeRef && !doc.Deleted {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (s *memoryStore) QueryUpdateDocument(ctx context.Context, id string, update db.DocumentUpdate) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if update.State != nil {
		doc.State = *update.State
	}
	if update.Progress != nil {
		doc.Progress = *update.Progress
	}
	if update.RetryCount != nil {
		doc.RetryCount = *update.RetryCount
	}
	if update.ChunkCount != nil {
		doc.ChunkCount = *update.ChunkCount
	}
	if update.OperationRef != nil {
		doc.OperationRef = update.OperationRef
	}
	if update.RemoteDocumentRef != nil {
		doc.RemoteDocumentRef = update.RemoteDocumentRef
	}
	if update.LastError != nil {
		doc.LastError = update.LastError
	}
	if update.MarkStarted {
		now := time.Now()
		doc.StartedAt = &now
	}
	if update.MarkCompleted {
		now := time.Now()
		doc.CompletedAt = &now
	}
	copied := *doc
	return &copied, nil
}

func (s *memoryStore) QuerySoftDeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return db.ErrNotFound
	}
	now := time.Now()
	doc.Deleted = true
	doc.DeletedAt = &now
	return nil
}

func (s *memoryStore) QueryInsertChunks(ctx context.Context, documentID string, inputs []models.ChunkInput) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[documentID] = append(s.chunks[documentID], inputs...)
	return len(inputs), nil
}

func (s *memoryStore) QueryDeleteChunks(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.chunks[documentID])
	delete(s.chunks, documentID)
	return n, nil
}

func (s *memoryStore) QueryCreateIngestJob(ctx context.Context, job models.IngestJob) (*models.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.DocumentID]; exists {
		return nil, db.ErrAlreadyExists
	}
	job.ID = surrealmodels.NewRecordID("ingest_job", job.DocumentID)
	job.State = models.StateQueued
	job.QueuedAt = time.Now()
	s.jobs[job.DocumentID] = &job
	copied := job
	return &copied, nil
}

func (s *memoryStore) QueryGetIngestJob(ctx context.Context, documentID string) (*models.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[documentID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *memoryStore) QueryUpdateIngestJob(ctx context.Context, documentID string, update db.JobUpdate) (*models.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[documentID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if update.State != nil {
		job.State = *update.State
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.RetryCount != nil {
		job.RetryCount = *update.RetryCount
	}
	if update.OperationRef != nil {
		job.OperationRef = update.OperationRef
	}
	if update.RemoteDocumentRef != nil {
		job.RemoteDocumentRef = update.RemoteDocumentRef
	}
	if update.LastError != nil {
		job.LastError = update.LastError
	}
	if update.MarkStarted {
		now := time.Now()
		job.StartedAt = &now
	}
	if update.MarkCompleted {
		now := time.Now()
		job.CompletedAt = &now
	}
	copied := *job
	return &copied, nil
}

func (s *memoryStore) QueryDeleteIngestJob(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, documentID)
	return nil
}

func (s *memoryStore) QueryListIncompleteJobs(ctx context.Context) ([]models.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.IngestJob
	for _, job := range s.jobs {
		if !job.State.Terminal() {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *memoryStore) QuerySweepJobs(ctx context.Context, completedRetention time.Duration, completedKeep int, failedRetention time.Duration) (db.SweepResult, error) {
	return db.SweepResult{}, nil
}

func (s *memoryStore) chunkCount(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[documentID])
}

// ingestFixture wires the full local pipeline against in-memory fakes.
type ingestFixture struct {
	svc        *IngestService
	store      *memoryStore
	index      *searchindex.Fake
	tracker    *JobTracker
	queue      *queue.Queue
	collectors *metrics.Metrics
}

func newIngestFixture(t *testing.T, embedder *stubEmbedder, index *searchindex.Fake) *ingestFixture {
	t.Helper()

	store := newMemoryStore()
	logger := discardLogger()
	collectors := metrics.New()
	tracker := NewJobTracker(store, logger)

	worker := queue.NewWorker(index, tracker, nil, time.Millisecond, 5, collectors, logger)
	jobQueue, err := queue.New(store, worker, tracker, nil, queue.Config{
		Concurrency: 2,
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
		Metrics:     collectors,
	}, logger)
	if err != nil {
		t.Fatalf("queue.New() error = %v", err)
	}
	t.Cleanup(jobQueue.Close)

	payloads, err := NewFilePayloadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilePayloadStore() error = %v", err)
	}

	generator := embedding.NewGenerator(embedder, 10, 0, logger)
	svc := NewIngestService(store, generator, jobQueue, tracker, payloads, nil, index,
		chunker.DefaultConfig(), 3, time.Minute, collectors, logger)

	return &ingestFixture{
		svc:        svc,
		store:      store,
		index:      index,
		tracker:    tracker,
		queue:      jobQueue,
		collectors: collectors,
	}
}

func validUpload() UploadInput {
	return UploadInput{
		OwnerID:  "owner-1",
		StoreRef: "store-1",
		Filename: "report.pdf",
		MimeType: "application/pdf",
		Language: "en",
		Pages: []chunker.Page{
			{Number: 1, Text: "The first page talks about corpora."},
			{Number: 2, Text: "The second page talks about retrieval."},
		},
		Payload: []byte("%PDF-1.7 fake"),
	}
}

func waitForState(t *testing.T, store *memoryStore, documentID string, want models.DocumentState) *models.Document {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := store.QueryGetDocument(context.Background(), documentID)
		if err == nil && doc.State == want {
			return doc
		}
		time.Sleep(5 * time.Millisecond)
	}
	doc, _ := store.QueryGetDocument(context.Background(), documentID)
	t.Fatalf("document %s never reached %s, last seen %+v", documentID, want, doc)
	return nil
}

func TestUploadRunsEndToEnd(t *testing.T) {
	fixture := newIngestFixture(t, &stubEmbedder{vector: []float32{0.1, 0.2}}, searchindex.NewFake())

	doc, job, err := fixture.svc.Upload(context.Background(), validUpload())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	docID := models.MustRecordIDString(doc.ID)
	if job.DocumentID != docID {
		t.Errorf("job document = %s, want %s", job.DocumentID, docID)
	}
	if fixture.store.chunkCount(docID) != 2 {
		t.Errorf("chunk count = %d, want 2", fixture.store.chunkCount(docID))
	}
	if _, err := os.Stat(job.PayloadRef); err != nil {
		t.Errorf("payload not staged at %s: %v", job.PayloadRef, err)
	}

	final := waitForState(t, fixture.store, docID, models.StateReady)
	if final.Progress != 100 {
		t.Errorf("progress = %d, want 100", final.Progress)
	}
	if final.RemoteDocumentRef == nil || !strings.HasPrefix(*final.RemoteDocumentRef, "remote-doc-") {
		t.Errorf("remote ref = %v", final.RemoteDocumentRef)
	}
	if uploads := fixture.index.Uploads(); len(uploads) != 1 || uploads[0].StoreRef != "store-1" {
		t.Errorf("index uploads = %+v", uploads)
	}

	status, err := fixture.svc.Status(context.Background(), docID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.State != models.StateReady {
		t.Errorf("status state = %s", status.State)
	}
}

func TestUploadValidation(t *testing.T) {
	fixture := newIngestFixture(t, &stubEmbedder{vector: []float32{1}}, searchindex.NewFake())
	ctx := context.Background()

	input := validUpload()
	input.MimeType = "image/png"
	if _, _, err := fixture.svc.Upload(ctx, input); !errors.Is(err, ErrUnsupportedMimeType) {
		t.Errorf("mime error = %v", err)
	}

	input = validUpload()
	input.Payload = nil
	if _, _, err := fixture.svc.Upload(ctx, input); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("payload error = %v", err)
	}

	input = validUpload()
	input.OwnerID = ""
	if _, _, err := fixture.svc.Upload(ctx, input); err == nil {
		t.Error("missing owner must be rejected")
	}
}

func TestUploadFailsDocumentWhenAllPagesEmpty(t *testing.T) {
	fixture := newIngestFixture(t, &stubEmbedder{vector: []float32{1}}, searchindex.NewFake())

	input := validUpload()
	input.Pages = []chunker.Page{{Number: 1, Text: "   \n\t"}}
	_, _, err := fixture.svc.Upload(context.Background(), input)
	if !errors.Is(err, chunker.ErrAllPagesEmpty) {
		t.Fatalf("error = %v, want ErrAllPagesEmpty", err)
	}

	// The document record exists and is terminally failed
	docs, _ := fixture.store.QueryListDocuments(context.Background(), "owner-1", "store-1")
	if len(docs) != 1 || docs[0].State != models.StateFailed {
		t.Errorf("documents = %+v", docs)
	}
}

func TestUploadFailsDocumentWhenNothingEmbeds(t *testing.T) {
	embedder := &stubEmbedder{
		vector: []float32{1},
		failTexts: map[string]bool{
			"The first page talks about corpora.":    true,
			"The second page talks about retrieval.": true,
		},
	}
	fixture := newIngestFixture(t, embedder, searchindex.NewFake())

	_, _, err := fixture.svc.Upload(context.Background(), validUpload())
	var embErr *embedding.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("error = %v, want *embedding.EmbeddingError", err)
	}

	docs, _ := fixture.store.QueryListDocuments(context.Background(), "owner-1", "store-1")
	if len(docs) != 1 || docs[0].State != models.StateFailed {
		t.Errorf("documents = %+v", docs)
	}
}

func TestUploadProceedsOnPartialEmbedding(t *testing.T) {
	embedder := &stubEmbedder{
		vector: []float32{1},
		failTexts: map[string]bool{
			"The second page talks about retrieval.": true,
		},
	}
	fixture := newIngestFixture(t, embedder, searchindex.NewFake())

	doc, _, err := fixture.svc.Upload(context.Background(), validUpload())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	docID := models.MustRecordIDString(doc.ID)

	if fixture.store.chunkCount(docID) != 1 {
		t.Errorf("chunk count = %d, want 1 (failed chunk skipped)", fixture.store.chunkCount(docID))
	}
	waitForState(t, fixture.store, docID, models.StateReady)
}

func TestUploadRetriesThenFailsOnRemoteError(t *testing.T) {
	index := searchindex.NewFake()
	index.FailWith = &searchindex.OperationError{Code: "quota_exceeded", Message: "store is full"}
	fixture := newIngestFixture(t, &stubEmbedder{vector: []float32{1}}, index)

	doc, _, err := fixture.svc.Upload(context.Background(), validUpload())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	docID := models.MustRecordIDString(doc.ID)

	final := waitForState(t, fixture.store, docID, models.StateFailed)
	if final.LastError == nil || !strings.Contains(*final.LastError, "store is full") {
		t.Errorf("last error = %v", final.LastError)
	}
	if uploads := fixture.index.Uploads(); len(uploads) != 2 {
		t.Errorf("upload attempts = %d, want 2", len(uploads))
	}
	// Both attempts count: one requeue plus the terminal failure
	if final.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", final.RetryCount)
	}
}

func waitForCounter(t *testing.T, read func() float64, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if read() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter stuck at %v, want %v", read(), want)
}

func TestPipelineRecordsIngestMetrics(t *testing.T) {
	fixture := newIngestFixture(t, &stubEmbedder{vector: []float32{1}}, searchindex.NewFake())

	doc, _, err := fixture.svc.Upload(context.Background(), validUpload())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	waitForState(t, fixture.store, models.MustRecordIDString(doc.ID), models.StateReady)

	m := fixture.collectors
	if got := testutil.ToFloat64(m.DocumentsIngested); got != 1 {
		t.Errorf("documents ingested = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ChunksStored); got != 2 {
		t.Errorf("chunks stored = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DocumentsFailed); got != 0 {
		t.Errorf("documents failed = %v, want 0", got)
	}
	// The gauge returns to zero once the queue retires the job
	waitForCounter(t, func() float64 { return testutil.ToFloat64(m.JobsActive) }, 0)
}

func TestPipelineRecordsFailureMetrics(t *testing.T) {
	index := searchindex.NewFake()
	index.FailWith = &searchindex.OperationError{Code: "quota_exceeded", Message: "store is full"}
	fixture := newIngestFixture(t, &stubEmbedder{vector: []float32{1}}, index)

	doc, _, err := fixture.svc.Upload(context.Background(), validUpload())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	waitForState(t, fixture.store, models.MustRecordIDString(doc.ID), models.StateFailed)

	m := fixture.collectors
	waitForCounter(t, func() float64 { return testutil.ToFloat64(m.DocumentsFailed) }, 1)
	if got := testutil.ToFloat64(m.JobRetries); got != 1 {
		t.Errorf("job retries = %v, want 1 (one requeue before the terminal failure)", got)
	}
	waitForCounter(t, func() float64 { return testutil.ToFloat64(m.JobsActive) }, 0)
}

func TestDeleteEnforcesOwnership(t *testing.T) {
	fixture := newIngestFixture(t, &stubEmbedder{vector: []float32{1}}, searchindex.NewFake())
	ctx := context.Background()

	doc, _, err := fixture.svc.Upload(ctx, validUpload())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	docID := models.MustRecordIDString(doc.ID)
	waitForState(t, fixture.store, docID, models.StateReady)

	if err := fixture.svc.Delete(ctx, "intruder", docID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("delete as intruder = %v, want ErrNotOwner", err)
	}

	if err := fixture.svc.Delete(ctx, "owner-1", docID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if fixture.store.chunkCount(docID) != 0 {
		t.Errorf("chunks survived delete")
	}
	if deletes := fixture.index.Deletes(); len(deletes) != 1 {
		t.Errorf("remote deletes = %v, want 1", deletes)
	}
	if _, err := fixture.store.QueryGetDocument(ctx, docID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("document still visible after delete: %v", err)
	}
}

func TestListScopesToOwnerAndStore(t *testing.T) {
	fixture := newIngestFixture(t, &stubEmbedder{vector: []float32{1}}, searchindex.NewFake())
	ctx := context.Background()

	if _, _, err := fixture.svc.Upload(ctx, validUpload()); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	other := validUpload()
	other.OwnerID = "owner-2"
	if _, _, err := fixture.svc.Upload(ctx, other); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	docs, err := fixture.svc.List(ctx, "owner-1", "store-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if docs[0].OwnerID != "owner-1" {
		t.Errorf("owner = %s", docs[0].OwnerID)
	}
}

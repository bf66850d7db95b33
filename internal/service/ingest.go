package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corpusd/corpusd/internal/cache"
	"github.com/corpusd/corpusd/internal/chunker"
	"github.com/corpusd/corpusd/internal/db"
	"github.com/corpusd/corpusd/internal/embedding"
	"github.com/corpusd/corpusd/internal/metrics"
	"github.com/corpusd/corpusd/internal/models"
	"github.com/corpusd/corpusd/internal/queue"
	"github.com/corpusd/corpusd/internal/searchindex"
)

// allowedMimeTypes are the document formats accepted for ingestion.
var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/markdown":   true,
	"text/html":       true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// MaxPayloadBytes caps uploads at 50 MiB.
const MaxPayloadBytes = 50 << 20

// Validation errors surfaced to the API layer.
var (
	ErrUnsupportedMimeType = errors.New("unsupported mime type")
	ErrPayloadTooLarge     = errors.New("payload too large")
	ErrEmptyPayload        = errors.New("empty payload")
	ErrNotOwner            = errors.New("document belongs to a different owner")
)

// DocumentStore is the persistence surface the ingest service needs.
// *db.Client satisfies it.
type DocumentStore interface {
	QueryCreateDocument(ctx context.Context, id string, input models.DocumentInput, maxRetries int) (*models.Document, error)
	QueryGetDocument(ctx context.Context, id string) (*models.Document, error)
	QueryListDocuments(ctx context.Context, ownerID, storeRef string) ([]models.Document, error)
	QueryUpdateDocument(ctx context.Context, id string, update db.DocumentUpdate) (*models.Document, error)
	QuerySoftDeleteDocument(ctx context.Context, id string) error
	QueryInsertChunks(ctx context.Context, documentID string, inputs []models.ChunkInput) (int, error)
	QueryDeleteChunks(ctx context.Context, documentID string) (int, error)
}

// UploadInput is one document upload.
type UploadInput struct {
	OwnerID  string
	StoreRef string
	Filename string
	MimeType string
	Language string
	// Pages is the extracted page text, in order.
	Pages []chunker.Page
	// Payload is the raw file, staged for the remote index.
	Payload []byte
}

// IngestService runs the local half of ingestion (chunk, embed, store)
// and hands the remote half to the job queue.
type IngestService struct {
	store      DocumentStore
	generator  *embedding.Generator
	queue      *queue.Queue
	tracker    *JobTracker
	payloads   PayloadStore
	cache      *cache.Manager
	index      searchindex.Client
	chunkCfg   chunker.Config
	maxRetry   int
	listTTL    time.Duration
	collectors *metrics.Metrics
	logger     *slog.Logger
}

// NewIngestService wires the ingestion pipeline.
func NewIngestService(
	store DocumentStore,
	generator *embedding.Generator,
	jobQueue *queue.Queue,
	tracker *JobTracker,
	payloads PayloadStore,
	cacheManager *cache.Manager,
	index searchindex.Client,
	chunkCfg chunker.Config,
	maxRetry int,
	listTTL time.Duration,
	collectors *metrics.Metrics,
	logger *slog.Logger,
) *IngestService {
	if maxRetry < 1 {
		maxRetry = 3
	}
	if listTTL <= 0 {
		listTTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		store:      store,
		generator:  generator,
		queue:      jobQueue,
		tracker:    tracker,
		payloads:   payloads,
		cache:      cacheManager,
		index:      index,
		chunkCfg:   chunkCfg,
		maxRetry:   maxRetry,
		listTTL:    listTTL,
		collectors: collectors,
		logger:     logger,
	}
}

func (s *IngestService) validate(input UploadInput) error {
	if input.OwnerID == "" || input.StoreRef == "" || input.Filename == "" {
		return fmt.Errorf("ownerID, storeRef and filename are required")
	}
	if !allowedMimeTypes[input.MimeType] {
		return fmt.Errorf("%w: %s", ErrUnsupportedMimeType, input.MimeType)
	}
	if len(input.Payload) == 0 {
		return ErrEmptyPayload
	}
	if len(input.Payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(input.Payload))
	}
	return nil
}

// Upload ingests a document: create the record, chunk and embed the
// pages, persist the chunks, stage the payload and enqueue the remote
// indexing job. Partial embedding success still proceeds; zero embedded
// chunks fails the document.
func (s *IngestService) Upload(ctx context.Context, input UploadInput) (*models.Document, *models.IngestJob, error) {
	if err := s.validate(input); err != nil {
		return nil, nil, err
	}

	doc, err := s.store.QueryCreateDocument(ctx, uuid.NewString(), models.DocumentInput{
		OwnerID:   input.OwnerID,
		StoreRef:  input.StoreRef,
		Filename:  input.Filename,
		MimeType:  input.MimeType,
		FileSize:  int64(len(input.Payload)),
		Language:  input.Language,
		PageCount: len(input.Pages),
	}, s.maxRetry)
	if err != nil {
		return nil, nil, fmt.Errorf("create document: %w", err)
	}
	docID := models.MustRecordIDString(doc.ID)

	segments, err := chunker.SplitPages(input.Pages, input.Language, s.chunkCfg, s.logger)
	if err != nil {
		s.failDocument(ctx, docID, err)
		return nil, nil, fmt.Errorf("chunk document: %w", err)
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	embedStart := time.Now()
	results, failures, err := s.generator.Generate(ctx, texts)
	s.collectors.ObserveEmbed(time.Since(embedStart))
	if err != nil {
		s.failDocument(ctx, docID, err)
		return nil, nil, fmt.Errorf("embed document: %w", err)
	}
	if len(results) == 0 {
		embErr := &embedding.EmbeddingError{Total: len(texts), Failed: len(failures), Err: firstFailure(failures)}
		s.failDocument(ctx, docID, embErr)
		return nil, nil, embErr
	}
	if len(failures) > 0 {
		s.logger.Warn("document embedded partially",
			"document_id", docID, "embedded", len(results), "failed", len(failures))
	}

	chunks := make([]models.ChunkInput, len(results))
	for i, r := range results {
		seg := segments[r.Index]
		chunks[i] = models.ChunkInput{
			Text:          seg.Text,
			SequenceIndex: seg.Index,
			PageNumber:    seg.PageNumber,
			Language:      seg.Language,
			Embedding:     r.Vector,
		}
	}
	count, err := s.store.QueryInsertChunks(ctx, docID, chunks)
	if err != nil {
		s.failDocument(ctx, docID, err)
		return nil, nil, fmt.Errorf("store chunks: %w", err)
	}
	s.collectors.ChunksAdded(count)

	if _, err := s.store.QueryUpdateDocument(ctx, docID, db.DocumentUpdate{ChunkCount: &count}); err != nil {
		s.logger.Warn("failed to record chunk count", "document_id", docID, "error", err)
	}

	payloadRef, err := s.payloads.Save(ctx, docID, input.Payload)
	if err != nil {
		s.failDocument(ctx, docID, err)
		return nil, nil, fmt.Errorf("stage payload: %w", err)
	}

	job, err := s.queue.Enqueue(ctx, queue.Job{
		DocumentID: docID,
		OwnerID:    input.OwnerID,
		StoreRef:   input.StoreRef,
		PayloadRef: payloadRef,
		Filename:   input.Filename,
		MimeType:   input.MimeType,
		FileSize:   int64(len(input.Payload)),
	})
	if err != nil {
		s.failDocument(ctx, docID, err)
		return nil, nil, fmt.Errorf("enqueue: %w", err)
	}
	s.tracker.Register(job)

	if s.cache != nil {
		s.cache.InvalidateDocumentScope(ctx, input.OwnerID, input.StoreRef)
	}

	s.collectors.DocumentIngested()
	s.logger.Info("document ingested",
		"document_id", docID, "owner_id", input.OwnerID, "store_ref", input.StoreRef,
		"pages", len(input.Pages), "chunks", count)

	doc, err = s.store.QueryGetDocument(ctx, docID)
	if err != nil {
		return nil, job, nil
	}
	return doc, job, nil
}

// List returns the owner's documents for a store, cached.
func (s *IngestService) List(ctx context.Context, ownerID, storeRef string) ([]models.Document, error) {
	fetch := func(ctx context.Context) (any, error) {
		return s.store.QueryListDocuments(ctx, ownerID, storeRef)
	}

	if s.cache == nil {
		docs, err := s.store.QueryListDocuments(ctx, ownerID, storeRef)
		return docs, err
	}

	var docs []models.Document
	err := s.cache.GetOrSet(ctx, cache.DocumentsKey(ownerID, storeRef), &docs, s.listTTL, fetch,
		cache.TagUser(ownerID), cache.TagStore(storeRef), cache.TagAllDocuments)
	return docs, err
}

// Status returns the ingestion status of a document.
func (s *IngestService) Status(ctx context.Context, documentID string) (models.JobStatus, error) {
	return s.tracker.StatusOrLoad(ctx, documentID)
}

/// Delete removes a document: its chunks, its remote copy and finally
// the record itself via soft delete.
func (s *IngestService) Delete(ctx context.Context, ownerID, documentID string) error {
	doc, err := s.store.QueryGetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != ownerID {
		return ErrNotOwner
	}

	if _, err := s.store.QueryDeleteChunks(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	if doc.RemoteDocumentRef != nil && s.index != nil {
		if err := s.index.Delete(ctx, *doc.RemoteDocumentRef); err != nil {
			// The local record still goes away; the remote copy is
			// orphaned and logged for operator cleanup
			s.logger.Warn("failed to delete remote document",
				"document_id", documentID, "remote_ref", *doc.RemoteDocumentRef, "error", err)
		}
	}

	if err := s.store.QuerySoftDeleteDocument(ctx, documentID); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.InvalidateDocumentScope(ctx, doc.OwnerID, doc.StoreRef)
	}
	return nil
}

// failDocument marks the document failed when local ingestion cannot
// proceed. Failures here never reach the job queue.
func (s *IngestService) failDocument(ctx context.Context, documentID string, cause error) {
	s.collectors.DocumentFailed()
	state := models.StateFailed
	msg := cause.Error()
	_, err := s.store.QueryUpdateDocument(ctx, documentID, db.DocumentUpdate{
		State:         &state,
		LastError:     &msg,
		MarkCompleted: true,
	})
	if err != nil {
		s.logger.Error("failed to mark document failed",
			"document_id", documentID, "cause", msg, "error", err)
	}
}

func firstFailure(failures []*embedding.ChunkError) error {
	if len(failures) == 0 {
		return errors.New("no vectors produced")
	}
	return failures[0]
}

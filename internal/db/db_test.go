// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/corpusd/corpusd/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx, 384); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// dummyEmbedding returns a deterministic 384-dim vector matching the
// schema dimension used in TestMain.
func dummyEmbedding(seed float32) []float32 {
	embedding := make([]float32, 384)
	for i := range embedding {
		embedding[i] = (float32(i) + seed) / 384.0
	}
	return embedding
}

func newTestDocument(t *testing.T, ownerID, storeRef string) *models.Document {
	t.Helper()
	doc, err := testDB.QueryCreateDocument(context.Background(), uuid.NewString(), models.DocumentInput{
		OwnerID:  ownerID,
		StoreRef: storeRef,
		Filename: "report.pdf",
		MimeType: "application/pdf",
		FileSize: 2048,
	}, 3)
	if err != nil {
		t.Fatalf("QueryCreateDocument failed: %v", err)
	}
	return doc
}

// =============================================================================
// DOCUMENT TESTS
// =============================================================================

func TestCreateAndGetDocument(t *testing.T) {
	ctx := context.Background()

	doc := newTestDocument(t, "owner-1", "store-a")
	id := models.MustRecordIDString(doc.ID)

	if doc.State != models.StateQueued {
		t.Errorf("new document state = %q, want queued", doc.State)
	}
	if doc.Progress != 0 {
		t.Errorf("new document progress = %d, want 0", doc.Progress)
	}
	if doc.Language != "en" {
		t.Errorf("language not defaulted: %q", doc.Language)
	}

	got, err := testDB.QueryGetDocument(ctx, id)
	if err != nil {
		t.Fatalf("QueryGetDocument failed: %v", err)
	}
	if got.Filename != "report.pdf" {
		t.Errorf("filename = %q", got.Filename)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	_, err := testDB.QueryGetDocument(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListDocumentsScopedToOwnerAndStore(t *testing.T) {
	ctx := context.Background()

	mine := newTestDocument(t, "owner-list", "store-list")
	newTestDocument(t, "owner-list", "other-store")
	newTestDocument(t, "someone-else", "store-list")

	docs, err := testDB.QueryListDocuments(ctx, "owner-list", "store-list")
	if err != nil {
		t.Fatalf("QueryListDocuments failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if models.MustRecordIDString(docs[0].ID) != models.MustRecordIDString(mine.ID) {
		t.Errorf("listed wrong document")
	}
}

func TestUpdateDocument(t *testing.T) {
	ctx := context.Background()

	doc := newTestDocument(t, "owner-upd", "store-upd")
	id := models.MustRecordIDString(doc.ID)

	state := models.StateUploading
	progress := 20
	opRef := "op-123"
	updated, err := testDB.QueryUpdateDocument(ctx, id, DocumentUpdate{
		State:        &state,
		Progress:     &progress,
		OperationRef: &opRef,
		MarkStarted:  true,
	})
	if err != nil {
		t.Fatalf("QueryUpdateDocument failed: %v", err)
	}

	if updated.State != models.StateUploading {
		t.Errorf("state = %q, want uploading", updated.State)
	}
	if updated.Progress != 20 {
		t.Errorf("progress = %d, want 20", updated.Progress)
	}
	if updated.OperationRef == nil || *updated.OperationRef != "op-123" {
		t.Errorf("operation ref not stored: %v", updated.OperationRef)
	}
	if updated.StartedAt == nil {
		t.Errorf("started_at not set")
	}
}

func TestSoftDeleteDocument(t *testing.T) {
	ctx := context.Background()

	doc := newTestDocument(t, "owner-del", "store-del")
	id := models.MustRecordIDString(doc.ID)

	if err := testDB.QuerySoftDeleteDocument(ctx, id); err != nil {
		t.Fatalf("QuerySoftDeleteDocument failed: %v", err)
	}

	if _, err := testDB.QueryGetDocument(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("soft-deleted document still retrievable, err = %v", err)
	}

	docs, err := testDB.QueryListDocuments(ctx, "owner-del", "store-del")
	if err != nil {
		t.Fatalf("QueryListDocuments failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("soft-deleted document still listed")
	}
}

// =============================================================================
// CHUNK TESTS
// =============================================================================

func TestInsertAndSearchChunks(t *testing.T) {
	ctx := context.Background()

	doc := newTestDocument(t, "owner-chunks", "store-chunks")
	id := models.MustRecordIDString(doc.ID)

	inputs := []models.ChunkInput{
		{Text: "alpha text", SequenceIndex: 0, PageNumber: 1, Language: "en", Embedding: dummyEmbedding(0)},
		{Text: "beta text", SequenceIndex: 1, PageNumber: 1, Language: "en", Embedding: dummyEmbedding(50)},
		{Text: "gamma text", SequenceIndex: 2, PageNumber: 2, Language: "en", Embedding: dummyEmbedding(200)},
	}
	n, err := testDB.QueryInsertChunks(ctx, id, inputs)
	if err != nil {
		t.Fatalf("QueryInsertChunks failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("inserted %d chunks, want 3", n)
	}

	count, err := testDB.QueryCountChunks(ctx, id)
	if err != nil {
		t.Fatalf("QueryCountChunks failed: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	matches, err := testDB.QuerySearchChunks(ctx, dummyEmbedding(0), []surrealmodels.RecordID{doc.ID}, 2)
	if err != nil {
		t.Fatalf("QuerySearchChunks failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if matches[0].Text != "alpha text" {
		t.Errorf("best match = %q, want the identical-embedding chunk", matches[0].Text)
	}
	if matches[0].DocumentID != id {
		t.Errorf("match document = %q, want %q", matches[0].DocumentID, id)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Similarity > matches[i-1].Similarity {
			t.Errorf("matches not sorted by similarity")
		}
	}
}

func TestSearchChunksEmptyScope(t *testing.T) {
	matches, err := testDB.QuerySearchChunks(context.Background(), dummyEmbedding(0), nil, 5)
	if err != nil {
		t.Fatalf("QuerySearchChunks failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected empty result for empty document scope")
	}
}

func TestDeleteChunks(t *testing.T) {
	ctx := context.Background()

	doc := newTestDocument(t, "owner-delchunks", "store-delchunks")
	id := models.MustRecordIDString(doc.ID)

	_, err := testDB.QueryInsertChunks(ctx, id, []models.ChunkInput{
		{Text: "one", SequenceIndex: 0, PageNumber: 1, Language: "en", Embedding: dummyEmbedding(1)},
		{Text: "two", SequenceIndex: 1, PageNumber: 1, Language: "en", Embedding: dummyEmbedding(2)},
	})
	if err != nil {
		t.Fatalf("QueryInsertChunks failed: %v", err)
	}

	removed, err := testDB.QueryDeleteChunks(ctx, id)
	if err != nil {
		t.Fatalf("QueryDeleteChunks failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d chunks, want 2", removed)
	}

	count, _ := testDB.QueryCountChunks(ctx, id)
	if count != 0 {
		t.Errorf("chunks remain after delete: %d", count)
	}
}

// =============================================================================
// INGEST JOB TESTS
// =============================================================================

func TestCreateIngestJobDeduplicates(t *testing.T) {
	ctx := context.Background()
	docID := uuid.NewString()

	job := models.IngestJob{
		DocumentID: docID,
		OwnerID:    "owner-job",
		StoreRef:   "store-job",
		PayloadRef: "blob://payload",
		MimeType:   "application/pdf",
		FileSize:   1024,
		MaxRetries: 3,
	}

	created, err := testDB.QueryCreateIngestJob(ctx, job)
	if err != nil {
		t.Fatalf("QueryCreateIngestJob failed: %v", err)
	}
	if created.State != models.StateQueued {
		t.Errorf("new job state = %q, want queued", created.State)
	}

	_, err = testDB.QueryCreateIngestJob(ctx, job)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second create: expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdateIngestJob(t *testing.T) {
	ctx := context.Background()
	docID := uuid.NewString()

	_, err := testDB.QueryCreateIngestJob(ctx, models.IngestJob{
		DocumentID: docID,
		OwnerID:    "owner-job2",
		StoreRef:   "store-job2",
		PayloadRef: "blob://payload",
		MimeType:   "text/plain",
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("QueryCreateIngestJob failed: %v", err)
	}

	state := models.StateIndexing
	progress := 42
	retries := 1
	updated, err := testDB.QueryUpdateIngestJob(ctx, docID, JobUpdate{
		State:      &state,
		Progress:   &progress,
		RetryCount: &retries,
	})
	if err != nil {
		t.Fatalf("QueryUpdateIngestJob failed: %v", err)
	}
	if updated.State != models.StateIndexing || updated.Progress != 42 || updated.RetryCount != 1 {
		t.Errorf("update not applied: %+v", updated)
	}
}

func TestListIncompleteJobs(t *testing.T) {
	ctx := context.Background()

	docID := uuid.NewString()
	_, err := testDB.QueryCreateIngestJob(ctx, models.IngestJob{
		DocumentID: docID,
		OwnerID:    "owner-incomplete",
		StoreRef:   "store-incomplete",
		PayloadRef: "blob://payload",
		MimeType:   "text/plain",
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("QueryCreateIngestJob failed: %v", err)
	}

	doneID := uuid.NewString()
	_, err = testDB.QueryCreateIngestJob(ctx, models.IngestJob{
		DocumentID: doneID,
		OwnerID:    "owner-incomplete",
		StoreRef:   "store-incomplete",
		PayloadRef: "blob://payload",
		MimeType:   "text/plain",
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("QueryCreateIngestJob failed: %v", err)
	}
	ready := models.StateReady
	if _, err := testDB.QueryUpdateIngestJob(ctx, doneID, JobUpdate{State: &ready, MarkCompleted: true}); err != nil {
		t.Fatalf("QueryUpdateIngestJob failed: %v", err)
	}

	jobs, err := testDB.QueryListIncompleteJobs(ctx)
	if err != nil {
		t.Fatalf("QueryListIncompleteJobs failed: %v", err)
	}

	var foundPending, foundDone bool
	for _, j := range jobs {
		if j.DocumentID == docID {
			foundPending = true
		}
		if j.DocumentID == doneID {
			foundDone = true
		}
	}
	if !foundPending {
		t.Errorf("pending job not listed")
	}
	if foundDone {
		t.Errorf("completed job listed as incomplete")
	}
}

func TestDeleteIngestJob(t *testing.T) {
	ctx := context.Background()
	docID := uuid.NewString()

	_, err := testDB.QueryCreateIngestJob(ctx, models.IngestJob{
		DocumentID: docID,
		OwnerID:    "owner-deljob",
		StoreRef:   "store-deljob",
		PayloadRef: "blob://payload",
		MimeType:   "text/plain",
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("QueryCreateIngestJob failed: %v", err)
	}

	if err := testDB.QueryDeleteIngestJob(ctx, docID); err != nil {
		t.Fatalf("QueryDeleteIngestJob failed: %v", err)
	}
	if _, err := testDB.QueryGetIngestJob(ctx, docID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

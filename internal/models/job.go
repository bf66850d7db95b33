package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// IngestJob is the persisted record of one queued remote-indexing run.
// Exactly one non-terminal job may exist per document; the queue enforces
// this with a per-document dedup key.
type IngestJob struct {
	ID surrealmodels.RecordID `json:"id"`

	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	StoreRef   string `json:"store_ref"`
	PayloadRef string `json:"payload_ref"` // Staged upload blob reference
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	FileSize   int64  `json:"file_size"`

	State    DocumentState `json:"state"`
	Progress int           `json:"progress"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	OperationRef      *string `json:"operation_ref,omitempty"`
	RemoteDocumentRef *string `json:"remote_document_ref,omitempty"`
	LastError         *string `json:"last_error,omitempty"`

	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobStatus is the read model polled by the API and pushed over the
// status channels. The persisted job record is the source of truth;
// this is a point-in-time view of it.
type JobStatus struct {
	DocumentID        string        `json:"documentId"`
	State             DocumentState `json:"status"`
	Progress          int           `json:"progress"`
	Message           string        `json:"message"`
	RemoteDocumentRef *string       `json:"documentName,omitempty"`
	Error             *string       `json:"error,omitempty"`
	RetryCount        int           `json:"retryCount"`
	Timestamp         time.Time     `json:"timestamp"`
}

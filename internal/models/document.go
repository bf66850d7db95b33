// Package models defines data structures for the corpusd document corpus.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// DocumentState is the ingestion state of a document.
// Transitions are forward-only: queued → uploading → indexing → ready,
// with failed reachable from any non-terminal state.
type DocumentState string

const (
	StateQueued    DocumentState = "queued"
	StateUploading DocumentState = "uploading"
	StateIndexing  DocumentState = "indexing"
	StateReady     DocumentState = "ready"
	StateFailed    DocumentState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s DocumentState) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// next maps each state to its single legal forward successor.
var next = map[DocumentState]DocumentState{
	StateQueued:    StateUploading,
	StateUploading: StateIndexing,
	StateIndexing:  StateReady,
}

// CanTransition reports whether moving from s to to is a legal transition.
// No stage may be skipped except the direct jump to failed.
func (s DocumentState) CanTransition(to DocumentState) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[s] == to
}

// Document represents an uploaded document and its indexing lifecycle.
// State machine fields mirror the active ingest job; the document record
// is what listing and retrieval read.
type Document struct {
	ID surrealmodels.RecordID `json:"id"`

	OwnerID  string `json:"owner_id"`
	StoreRef string `json:"store_ref"` // Remote file-search store name
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	Language string `json:"language"`

	PageCount  int `json:"page_count"`
	ChunkCount int `json:"chunk_count"`

	State             DocumentState `json:"state"`
	Progress          int           `json:"progress"`
	RetryCount        int           `json:"retry_count"`
	MaxRetries        int           `json:"max_retries"`
	OperationRef      *string       `json:"operation_ref,omitempty"`
	RemoteDocumentRef *string       `json:"remote_document_ref,omitempty"`
	LastError         *string       `json:"last_error,omitempty"`

	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Soft delete
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// DocumentInput is the input structure for creating a document record.
type DocumentInput struct {
	OwnerID   string `json:"owner_id"`
	StoreRef  string `json:"store_ref"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	FileSize  int64  `json:"file_size"`
	Language  string `json:"language"`
	PageCount int    `json:"page_count"`
}

// StatusMessage returns the human-readable message for the current state.
func (d *Document) StatusMessage() string {
	switch d.State {
	case StateQueued:
		return "Waiting in queue..."
	case StateUploading:
		return "Uploading to search index..."
	case StateIndexing:
		return "Indexing document..."
	case StateReady:
		return "Document ready"
	case StateFailed:
		if d.LastError != nil {
			return *d.LastError
		}
		return "Upload failed"
	}
	return string(d.State)
}

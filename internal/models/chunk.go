package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chunk is the atomic unit of embedding and retrieval: a bounded segment
// of document text with its vector. Chunks are immutable once created and
// are deleted en masse with their parent document.
type Chunk struct {
	ID surrealmodels.RecordID `json:"id"`

	// Parent reference
	Document surrealmodels.RecordID `json:"document"`

	Text          string `json:"text"`
	SequenceIndex int    `json:"sequence_index"` // Order within the document
	PageNumber    int    `json:"page_number"`
	Language      string `json:"language"`

	// Search
	Embedding []float32 `json:"embedding"`

	CreatedAt time.Time `json:"created_at"`
}

// ChunkInput is the input structure for persisting a chunk.
type ChunkInput struct {
	DocumentID    string    `json:"document_id"`
	Text          string    `json:"text"`
	SequenceIndex int       `json:"sequence_index"`
	PageNumber    int       `json:"page_number"`
	Language      string    `json:"language"`
	Embedding     []float32 `json:"embedding"`
}

// ChunkMatch is one retrieval result with its similarity score.
// The shape is identical for local vector search and remote index queries.
type ChunkMatch struct {
	ChunkID    string  `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	PageNumber int     `json:"pageNumber"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

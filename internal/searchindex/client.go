// Package searchindex talks to the remote file-search service that hosts
// the managed vector stores. Uploads are asynchronous: the service
// returns an operation reference which is polled until the document is
// indexed.
package searchindex

import "context"

// UploadRequest describes a document payload to index remotely.
type UploadRequest struct {
	StoreRef   string `json:"storeRef"`
	PayloadRef string `json:"payloadRef"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
}

// Operation is the state of an asynchronous remote indexing run.
type Operation struct {
	Ref string `json:"ref"`
	// Done reports whether the operation has finished, successfully or
	// not. When Done is false the other result fields are meaningless.
	Done bool `json:"done"`
	// DocumentRef names the indexed document inside the remote store.
	// Set only on success.
	DocumentRef *string `json:"documentRef,omitempty"`
	// Failure is set when the operation finished unsuccessfully.
	Failure *OperationError `json:"error,omitempty"`
}

// QueryRequest asks the remote store for relevant passages.
type QueryRequest struct {
	StoreRef string `json:"storeRef"`
	Query    string `json:"query"`
	TopK     int    `json:"topK"`
}

// QueryHit is one passage returned by the remote store.
type QueryHit struct {
	DocumentRef string  `json:"documentRef"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	PageNumber  int     `json:"pageNumber"`
}

// Client is the remote file-search service API.
type Client interface {
	// Upload stages a document for indexing and returns the operation
	// reference to poll.
	Upload(ctx context.Context, req UploadRequest) (string, error)

	// Operation fetches the current state of an indexing operation.
	Operation(ctx context.Context, ref string) (*Operation, error)

	// Query searches a remote store directly.
	Query(ctx context.Context, req QueryRequest) ([]QueryHit, error)

	// Delete removes an indexed document from its remote store.
	Delete(ctx context.Context, documentRef string) error
}

package searchindex

import (
	"errors"
	"fmt"
)

// ErrOperationTimeout indicates an indexing operation did not finish
// within the caller's polling budget. The operation may still complete
// remotely; the job is what gave up.
var ErrOperationTimeout = errors.New("indexing operation timed out")

// OperationError is a terminal failure reported by the remote service
// for an indexing operation.
type OperationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *OperationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote indexing failed (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote indexing failed: %s", e.Message)
}

// StatusError is a non-2xx HTTP response from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search index returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed on retry. Client
// errors other than rate limiting are permanent.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

package embedding

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that will not succeed on retry, such
// as authentication or billing failures. Callers abort the whole run
// instead of isolating the failing chunk.
var ErrFatalAPI = errors.New("fatal embedding API error")

// ErrDimensionMismatch indicates the provider returned a vector of the
// wrong length for the configured model.
var ErrDimensionMismatch = errors.New("dimension mismatch")

var fatalMarkers = []string{
	"invalid api key",
	"incorrect api key",
	"authentication",
	"unauthorized",
	"billing",
	"quota",
	"status code: 401",
	"status code: 403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// wrapFatalError tags err with ErrFatalAPI when it matches a known
// non-retryable provider failure. Other errors pass through unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}

// EmbeddingError reports a run that produced no usable vectors at all.
// Partial failure is not an error; total failure is.
type EmbeddingError struct {
	Total  int
	Failed int
	Err    error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed for all %d chunks: %v", e.Total, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// ChunkError records a single chunk that failed to embed. The run
// continues; failed chunks are reported together at the end.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

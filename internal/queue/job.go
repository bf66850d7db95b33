package queue

import (
	"errors"
	"fmt"
)

// Job is the payload accepted by Enqueue. All fields are required.
type Job struct {
	DocumentID string
	OwnerID    string
	StoreRef   string
	// PayloadRef points at the staged upload blob handed to the remote
	// index, so a retry never depends on request-scoped memory.
	PayloadRef string
	Filename   string
	MimeType   string
	FileSize   int64
}

// ErrInvalidJob indicates a payload that failed validation.
var ErrInvalidJob = errors.New("invalid job payload")

// Validate checks that every required field is present.
func (j Job) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: missing %s", ErrInvalidJob, field)
	}

	if j.DocumentID == "" {
		return missing("documentID")
	}
	if j.OwnerID == "" {
		return missing("ownerID")
	}
	if j.StoreRef == "" {
		return missing("storeRef")
	}
	if j.PayloadRef == "" {
		return missing("payloadRef")
	}
	if j.Filename == "" {
		return missing("filename")
	}
	if j.MimeType == "" {
		return missing("mimeType")
	}
	if j.FileSize <= 0 {
		return fmt.Errorf("%w: fileSize must be positive", ErrInvalidJob)
	}
	return nil
}

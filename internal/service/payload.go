package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// PayloadStore stages uploaded file bytes so a job retry or a process
// restart can re-submit them without holding request memory.
type PayloadStore interface {
	// Save stores the payload and returns a stable reference.
	Save(ctx context.Context, documentID string, data []byte) (string, error)
	// Remove discards a staged payload.
	Remove(ctx context.Context, ref string) error
}

// FilePayloadStore stages payloads in a spool directory on local disk.
type FilePayloadStore struct {
	dir string
}

// NewFilePayloadStore creates the spool directory if needed.
func NewFilePayloadStore(dir string) (*FilePayloadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create payload dir: %w", err)
	}
	return &FilePayloadStore{dir: dir}, nil
}

func (s *FilePayloadStore) Save(ctx context.Context, documentID string, data []byte) (string, error) {
	path := filepath.Join(s.dir, documentID+".payload")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("stage payload: %w", err)
	}
	return path, nil
}

func (s *FilePayloadStore) Remove(ctx context.Context, ref string) error {
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove payload: %w", err)
	}
	return nil
}

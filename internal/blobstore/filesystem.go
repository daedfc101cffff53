package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps blobs as flat files under a root directory, one file per id.
// Writes land in a .partial file first and are renamed into place on success,
// so aborted uploads never leave an addressable blob.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed and returns a FileStore.
func NewFileStore(root string) (*FileStore, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("blobstore: root directory is required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating root directory: %w", err)
	}
	return &FileStore{root: trimmed}, nil
}

func (s *FileStore) blobPath(id string) string {
	// Ids are opaque UUIDs; Base strips any path separators defensively.
	return filepath.Join(s.root, filepath.Base(id))
}

// Put streams bytes into a partial file and promotes it atomically.
func (s *FileStore) Put(ctx context.Context, id string, reader io.Reader, maxBytes int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	finalPath := s.blobPath(id)
	partialPath := finalPath + ".partial"

	file, err := os.OpenFile(partialPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("blobstore: opening partial file: %w", err)
	}

	written, copyErr := copyCapped(file, reader, maxBytes)
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(partialPath)
		return 0, copyErr
	}

	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return 0, fmt.Errorf("blobstore: promoting blob: %w", err)
	}
	return written, nil
}

// Get opens the blob file for streaming.
func (s *FileStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(s.blobPath(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: opening blob: %w", err)
	}
	return file, nil
}

// Delete removes the blob file. Absent blobs are treated as already deleted.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.blobPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: deleting blob: %w", err)
	}
	return nil
}

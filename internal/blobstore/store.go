// Package blobstore stores attachment byte payloads addressed by opaque ids,
// independently of the metadata rows that reference them. Implementations
// back onto the local filesystem or an S3-compatible object store.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned when no blob exists under the requested id.
	ErrNotFound = errors.New("blobstore: blob not found")
	// ErrTooLarge is returned when a streamed write exceeds its size limit.
	// No partial blob remains addressable after this error.
	ErrTooLarge = errors.New("blobstore: payload exceeds size limit")
	// ErrQuotaExceeded is returned when the backing store refuses the write
	// for capacity reasons.
	ErrQuotaExceeded = errors.New("blobstore: storage quota exceeded")
)

// Store is the byte-storage contract consumed by the attachment manager.
type Store interface {
	// Put streams bytes under id, failing with ErrTooLarge once more than
	// maxBytes have been read. Returns the number of bytes stored.
	Put(ctx context.Context, id string, reader io.Reader, maxBytes int64) (int64, error)
	// Get opens the blob stored under id for reading.
	Get(ctx context.Context, id string) (io.ReadCloser, error)
	// Delete removes the blob stored under id. Deleting an absent blob is
	// not an error.
	Delete(ctx context.Context, id string) error
}

// copyCapped copies from reader to writer, failing with ErrTooLarge as soon
// as the byte count passes maxBytes.
func copyCapped(writer io.Writer, reader io.Reader, maxBytes int64) (int64, error) {
	written, err := io.Copy(writer, io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return written, fmt.Errorf("blobstore: streaming copy failed: %w", err)
	}
	if written > maxBytes {
		return written, ErrTooLarge
	}
	return written, nil
}

package notes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pressleaf/notesd/internal/blobstore"
	"gorm.io/gorm"
)

// memBlobStore is an in-memory blob store recording deletions, used to
// observe purge cascades without touching the filesystem.
type memBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	deleted []string
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (s *memBlobStore) Put(ctx context.Context, id string, reader io.Reader, maxBytes int64) (int64, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return 0, err
	}
	if int64(len(data)) > maxBytes {
		return 0, blobstore.ErrTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = data
	return int64(len(data)), nil
}

func (s *memBlobStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[id]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memBlobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:notesd_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Note{}, &HistoryEntry{}, &Attachment{}, &ShareToken{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *memBlobStore) {
	t.Helper()

	db := newTestDB(t)
	blobs := newMemBlobStore()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000600, 0).UTC() },
		IDProvider: NewUUIDProvider(),
		Blobs:      blobs,
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	return service, db, blobs
}

func mustCreate(t *testing.T, service *Service, input CreateInput) Note {
	t.Helper()
	note, err := service.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return note
}

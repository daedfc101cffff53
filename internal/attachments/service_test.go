package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pressleaf/notesd/internal/blobstore"
	"github.com/pressleaf/notesd/internal/notes"
	"gorm.io/gorm"
)

const testMaxUploadBytes = 1 << 20

func newTestService(t *testing.T) (*Service, *gorm.DB, blobstore.Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:attachments_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&notes.Note{}, &notes.Attachment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	blobs, err := blobstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:       db,
		Blobs:          blobs,
		Clock:          func() time.Time { return time.Unix(1700000600, 0).UTC() },
		IDProvider:     notes.NewUUIDProvider(),
		MaxUploadBytes: testMaxUploadBytes,
		PreviewFormats: []string{"pptx"},
	})
	if err != nil {
		t.Fatalf("failed to construct attachments service: %v", err)
	}
	return service, db, blobs
}

func seedNote(t *testing.T, db *gorm.DB, status notes.Status) notes.Note {
	t.Helper()
	note := notes.Note{
		NoteID:           fmt.Sprintf("note-%d", time.Now().UnixNano()),
		Title:            "seeded",
		Body:             "body",
		Status:           status,
		Version:          1,
		CreatedAtSeconds: 1700000000,
		UpdatedAtSeconds: 1700000000,
	}
	if err := db.Create(&note).Error; err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}
	return note
}

func TestUploadStoresBlobAndMetadata(t *testing.T) {
	service, db, blobs := newTestService(t)
	ctx := context.Background()
	note := seedNote(t, db, notes.StatusActive)

	attachment, err := service.Upload(ctx, note.NoteID, "report.txt", "text/plain", strings.NewReader("file contents"), -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if attachment.SizeBytes != int64(len("file contents")) {
		t.Fatalf("unexpected size %d", attachment.SizeBytes)
	}
	if attachment.ContentType != "text/plain" {
		t.Fatalf("unexpected content type %q", attachment.ContentType)
	}

	stream, err := blobs.Get(ctx, attachment.AttachmentID)
	if err != nil {
		t.Fatalf("blob missing after upload: %v", err)
	}
	stream.Close()

	var stored notes.Attachment
	if err := db.Where("attachment_id = ?", attachment.AttachmentID).Take(&stored).Error; err != nil {
		t.Fatalf("metadata row missing: %v", err)
	}
}

func TestUploadDefaultsContentType(t *testing.T) {
	service, db, _ := newTestService(t)
	note := seedNote(t, db, notes.StatusActive)

	attachment, err := service.Upload(context.Background(), note.NoteID, "data.bin", "", strings.NewReader("x"), -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if attachment.ContentType != "application/octet-stream" {
		t.Fatalf("expected default content type, got %q", attachment.ContentType)
	}
}

func TestUploadToPurgedNoteFails(t *testing.T) {
	service, db, _ := newTestService(t)
	note := seedNote(t, db, notes.StatusPurged)

	_, err := service.Upload(context.Background(), note.NoteID, "f.txt", "text/plain", strings.NewReader("x"), -1)
	if !errors.Is(err, notes.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestUploadToUnknownNoteFails(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Upload(context.Background(), "missing", "f.txt", "text/plain", strings.NewReader("x"), -1)
	if !errors.Is(err, notes.ErrNoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUploadDeclaredSizeOverLimitFailsEarly(t *testing.T) {
	service, db, _ := newTestService(t)
	note := seedNote(t, db, notes.StatusActive)

	_, err := service.Upload(context.Background(), note.NoteID, "big.bin", "", strings.NewReader("x"), testMaxUploadBytes+1)
	if !errors.Is(err, notes.ErrPayloadTooLarge) {
		t.Fatalf("expected payload too large, got %v", err)
	}
}

func TestUploadStreamOverLimitLeavesNoResidue(t *testing.T) {
	service, db, _ := newTestService(t)
	note := seedNote(t, db, notes.StatusActive)

	oversized := io.LimitReader(zeroReader{}, testMaxUploadBytes+1)
	_, err := service.Upload(context.Background(), note.NoteID, "big.bin", "", oversized, -1)
	if !errors.Is(err, notes.ErrPayloadTooLarge) {
		t.Fatalf("expected payload too large, got %v", err)
	}

	var count int64
	if err := db.Model(&notes.Attachment{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no metadata rows, got %d", count)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestDownloadStreamsStoredBytes(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	note := seedNote(t, db, notes.StatusActive)

	uploaded, err := service.Upload(ctx, note.NoteID, "report.txt", "text/plain", strings.NewReader("round trip"), -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	attachment, stream, err := service.Download(ctx, uploaded.AttachmentID)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "round trip" {
		t.Fatalf("unexpected data %q", data)
	}
	if attachment.Filename != "report.txt" {
		t.Fatalf("unexpected filename %q", attachment.Filename)
	}
}

func TestDownloadUnknownAttachmentFails(t *testing.T) {
	service, _, _ := newTestService(t)

	_, _, err := service.Download(context.Background(), "missing")
	if !errors.Is(err, notes.ErrAttachmentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	service, db, _ := newTestService(t)
	ctx := context.Background()
	note := seedNote(t, db, notes.StatusActive)

	for i := 0; i < 3; i++ {
		attachment := notes.Attachment{
			AttachmentID:      fmt.Sprintf("att-%d", i),
			NoteID:            note.NoteID,
			Filename:          fmt.Sprintf("f%d.txt", i),
			ContentType:       "text/plain",
			SizeBytes:         1,
			UploadedAtSeconds: int64(1700000000 + i),
		}
		if err := db.Create(&attachment).Error; err != nil {
			t.Fatalf("failed to seed attachment: %v", err)
		}
	}

	items, err := service.List(ctx, note.NoteID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 attachments, got %d", len(items))
	}
	if items[0].AttachmentID != "att-2" {
		t.Fatalf("expected newest first, got %s", items[0].AttachmentID)
	}
}

func TestDeleteRemovesRowAndBlob(t *testing.T) {
	service, db, blobs := newTestService(t)
	ctx := context.Background()
	note := seedNote(t, db, notes.StatusActive)

	uploaded, err := service.Upload(ctx, note.NoteID, "gone.txt", "text/plain", strings.NewReader("bye"), -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	if err := service.Delete(ctx, uploaded.AttachmentID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var count int64
	if err := db.Model(&notes.Attachment{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected metadata row removed, got %d", count)
	}
	if _, err := blobs.Get(ctx, uploaded.AttachmentID); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("expected blob removed, got %v", err)
	}

	if err := service.Delete(ctx, uploaded.AttachmentID); !errors.Is(err, notes.ErrAttachmentNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestUploadWithS3Backend(t *testing.T) {
	_, db, _ := newTestService(t)
	note := seedNote(t, db, notes.StatusActive)

	service, err := NewService(ServiceConfig{
		Database:       db,
		Blobs:          blobstore.TestS3Store(t, "attachments"),
		IDProvider:     notes.NewUUIDProvider(),
		MaxUploadBytes: testMaxUploadBytes,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	uploaded, err := service.Upload(context.Background(), note.NoteID, "cloud.txt", "text/plain", strings.NewReader("object"), -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	_, stream, err := service.Download(context.Background(), uploaded.AttachmentID)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(data, []byte("object")) {
		t.Fatalf("unexpected data %q", data)
	}
}

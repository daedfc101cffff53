package sharing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pressleaf/notesd/internal/notes"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:sharing_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&notes.Note{}, &notes.ShareToken{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000600, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct sharing service: %v", err)
	}
	return service, db
}

func seedNote(t *testing.T, db *gorm.DB, status notes.Status) notes.Note {
	t.Helper()
	note := notes.Note{
		NoteID:           fmt.Sprintf("note-%d", time.Now().UnixNano()),
		Title:            "A2",
		Body:             "body2",
		TagsText:         "work",
		Status:           status,
		Version:          2,
		CreatedAtSeconds: 1700000000,
		UpdatedAtSeconds: 1700000500,
	}
	if err := db.Create(&note).Error; err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}
	return note
}

func TestIssueReturnsHighEntropyToken(t *testing.T) {
	service, db := newTestService(t)
	note := seedNote(t, db, notes.StatusActive)

	token, err := service.Issue(context.Background(), note.NoteID)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	// 16 random bytes encode to 22 base64url characters.
	if len(token.Token) != 22 {
		t.Fatalf("unexpected token length %d", len(token.Token))
	}
	if token.NoteID != note.NoteID {
		t.Fatalf("token bound to wrong note %s", token.NoteID)
	}

	second, err := service.Issue(context.Background(), note.NoteID)
	if err != nil {
		t.Fatalf("second issue failed: %v", err)
	}
	if second.Token == token.Token {
		t.Fatalf("expected distinct tokens per issue")
	}
}

func TestIssueOnPurgedNoteFails(t *testing.T) {
	service, db := newTestService(t)
	note := seedNote(t, db, notes.StatusPurged)

	if _, err := service.Issue(context.Background(), note.NoteID); !errors.Is(err, notes.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestIssueOnUnknownNoteFails(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.Issue(context.Background(), "missing"); !errors.Is(err, notes.ErrNoteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveReflectsCurrentState(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	note := seedNote(t, db, notes.StatusActive)

	token, err := service.Issue(ctx, note.NoteID)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	projection, err := service.Resolve(ctx, token.Token)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if projection.Title != "A2" || projection.Body != "body2" || projection.Status != notes.StatusActive {
		t.Fatalf("unexpected projection %+v", projection)
	}

	// The token is a live view, not a snapshot at issue time.
	if err := db.Model(&notes.Note{}).Where("note_id = ?", note.NoteID).
		Update("body", "body3").Error; err != nil {
		t.Fatalf("failed to update note: %v", err)
	}
	projection, err = service.Resolve(ctx, token.Token)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if projection.Body != "body3" {
		t.Fatalf("expected live body, got %q", projection.Body)
	}
}

func TestResolveArchivedNoteSucceeds(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	note := seedNote(t, db, notes.StatusArchived)

	token, err := service.Issue(ctx, note.NoteID)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	projection, err := service.Resolve(ctx, token.Token)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if projection.Status != notes.StatusArchived {
		t.Fatalf("expected archived status, got %s", projection.Status)
	}
}

func TestResolvePurgedNoteReportsGone(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	note := seedNote(t, db, notes.StatusActive)

	token, err := service.Issue(ctx, note.NoteID)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if err := db.Model(&notes.Note{}).Where("note_id = ?", note.NoteID).
		Updates(map[string]interface{}{"status": notes.StatusPurged, "title": "", "body": ""}).Error; err != nil {
		t.Fatalf("failed to purge note: %v", err)
	}

	if _, err := service.Resolve(ctx, token.Token); !errors.Is(err, notes.ErrShareGone) {
		t.Fatalf("expected gone error, got %v", err)
	}
}

func TestResolveUnknownTokenFails(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.Resolve(context.Background(), "unknown"); !errors.Is(err, notes.ErrTokenNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	note := seedNote(t, db, notes.StatusActive)

	token, err := service.Issue(ctx, note.NoteID)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if err := service.Revoke(ctx, token.Token); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if _, err := service.Resolve(ctx, token.Token); !errors.Is(err, notes.ErrTokenNotFound) {
		t.Fatalf("expected revoked token to be unknown, got %v", err)
	}
	if err := service.Revoke(ctx, token.Token); err != nil {
		t.Fatalf("second revoke should be a no-op, got %v", err)
	}
	if err := service.Revoke(ctx, "never-issued"); err != nil {
		t.Fatalf("revoking an unknown token should be a no-op, got %v", err)
	}
}

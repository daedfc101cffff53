// Package sharing issues and resolves unguessable tokens granting read-only
// access to a single note's current state, independent of any session.
package sharing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/pressleaf/notesd/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew = "sharing.service.new"
	opIssue      = "sharing.issue"
	opResolve    = "sharing.resolve"
	opRevoke     = "sharing.revoke"
)

// tokenEntropyBytes yields 128 bits of entropy per token, encoded as 22
// base64url characters.
const tokenEntropyBytes = 16

// maxIssueAttempts bounds retries on the astronomically unlikely token
// collision, enforced by the primary key at insert.
const maxIssueAttempts = 3

// ServiceConfig carries the dependencies of the share token service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service issues, resolves and revokes share tokens.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs a share token service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, notes.NewServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Projection is the read-only view of a note returned to token holders. It
// reflects the note's state at resolution time, not at issue time.
type Projection struct {
	NoteID string
	Title  string
	Body   string
	Tags   []string
	Status notes.Status
}

// Issue creates a fresh token for the note. A note may hold any number of
// live tokens; purged notes never gain new ones.
func (s *Service) Issue(ctx context.Context, noteID string) (notes.ShareToken, error) {
	var note notes.Note
	err := s.db.WithContext(ctx).Where("note_id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notes.ShareToken{}, notes.NewServiceError(opIssue, "note_not_found", notes.ErrNoteNotFound)
	}
	if err != nil {
		s.logError(opIssue, "note_select_failed", err, zap.String("note_id", noteID))
		return notes.ShareToken{}, notes.NewServiceError(opIssue, "note_select_failed", err)
	}
	if note.Status == notes.StatusPurged {
		return notes.ShareToken{}, notes.NewServiceError(opIssue, "note_purged", notes.ErrInvalidState)
	}

	var lastErr error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		value, err := newTokenValue()
		if err != nil {
			s.logError(opIssue, "token_generation_failed", err)
			return notes.ShareToken{}, notes.NewServiceError(opIssue, "token_generation_failed", err)
		}
		token := notes.ShareToken{
			Token:            value,
			NoteID:           noteID,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := s.db.WithContext(ctx).Create(&token).Error; err != nil {
			// A primary-key collision means the random value already exists;
			// draw again.
			lastErr = err
			continue
		}
		return token, nil
	}
	s.logError(opIssue, "token_insert_failed", lastErr, zap.String("note_id", noteID))
	return notes.ShareToken{}, notes.NewServiceError(opIssue, "token_insert_failed", lastErr)
}

// Resolve maps a token to a live read-only projection of its note. Archived
// notes remain resolvable; purged ones report gone rather than leak content.
func (s *Service) Resolve(ctx context.Context, tokenValue string) (Projection, error) {
	var token notes.ShareToken
	err := s.db.WithContext(ctx).Where("token = ?", tokenValue).Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Projection{}, notes.NewServiceError(opResolve, "token_not_found", notes.ErrTokenNotFound)
	}
	if err != nil {
		s.logError(opResolve, "token_select_failed", err)
		return Projection{}, notes.NewServiceError(opResolve, "token_select_failed", err)
	}

	var note notes.Note
	err = s.db.WithContext(ctx).Where("note_id = ?", token.NoteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The note row vanished underneath the token; the share is dead.
		return Projection{}, notes.NewServiceError(opResolve, "note_gone", notes.ErrShareGone)
	}
	if err != nil {
		s.logError(opResolve, "note_select_failed", err, zap.String("note_id", token.NoteID))
		return Projection{}, notes.NewServiceError(opResolve, "note_select_failed", err)
	}
	if note.Status == notes.StatusPurged {
		return Projection{}, notes.NewServiceError(opResolve, "note_purged", notes.ErrShareGone)
	}

	return Projection{
		NoteID: note.NoteID,
		Title:  note.Title,
		Body:   note.Body,
		Tags:   note.Tags(),
		Status: note.Status,
	}, nil
}

// Revoke deletes the token row. Revoking an unknown or already-revoked token
// is a no-op, keeping the operation idempotent.
func (s *Service) Revoke(ctx context.Context, tokenValue string) error {
	if err := s.db.WithContext(ctx).Where("token = ?", tokenValue).Delete(&notes.ShareToken{}).Error; err != nil {
		s.logError(opRevoke, "token_delete_failed", err)
		return notes.NewServiceError(opRevoke, "token_delete_failed", err)
	}
	return nil
}

func newTokenValue() (string, error) {
	buffer := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("sharing service error", attrs...)
}

package notes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pressleaf/notesd/internal/blobstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "notes.service.new"
	opCreate      = "notes.create"
	opGet         = "notes.get"
	opList        = "notes.list"
	opEdit        = "notes.edit"
	opArchive     = "notes.archive"
	opUnarchive   = "notes.unarchive"
	opPurge       = "notes.purge"
	opListHistory = "notes.list_history"
)

// maxConflictRetries bounds the optimistic-concurrency retry loop before a
// version conflict is surfaced to the caller.
const maxConflictRetries = 3

// IDProvider issues opaque identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig carries the dependencies of the lifecycle service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	// Blobs is consulted during purge to remove attachment bytes before the
	// metadata cascade. Optional; purge skips blob cleanup when nil.
	Blobs  blobstore.Store
	Logger *zap.Logger
}

// Service owns the note lifecycle state machine and the append-only history
// that shadows every content mutation.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	blobs      blobstore.Store
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a lifecycle service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, NewServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, NewServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		blobs:      cfg.Blobs,
		logger:     logger,
	}, nil
}

// CreateInput carries the caller-supplied fields of a new or edited note.
type CreateInput struct {
	Title  string
	Body   string
	Tags   []string
	Pinned bool
}

// Create inserts a new active note at version 1 with no history.
func (s *Service) Create(ctx context.Context, input CreateInput) (Note, error) {
	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Note{}, NewServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	note := Note{
		NoteID:           noteID,
		Title:            input.Title,
		Body:             input.Body,
		TagsText:         SerializeTags(input.Tags),
		Pinned:           input.Pinned,
		Status:           StatusActive,
		Version:          1,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("note_id", noteID))
		return Note{}, NewServiceError(opCreate, "insert_failed", err)
	}
	return note, nil
}

// Get loads a note by identifier. Purged tombstones are reported as not found
// because their content no longer exists.
func (s *Service) Get(ctx context.Context, noteID string) (Note, error) {
	note, err := s.loadNote(ctx, opGet, noteID)
	if err != nil {
		return Note{}, err
	}
	if note.Status == StatusPurged {
		return Note{}, NewServiceError(opGet, "note_purged", ErrNoteNotFound)
	}
	return note, nil
}

// ListFilter narrows the note listing.
type ListFilter struct {
	// Search matches a substring of title, body or tags.
	Search string
	// Tag keeps only notes carrying the exact normalized tag.
	Tag string
	// IncludeArchived adds archived notes to the listing. Purged tombstones
	// are never listed.
	IncludeArchived bool
}

// List returns notes ordered pinned-first then newest-first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Note, error) {
	query := s.db.WithContext(ctx).
		Where("status <> ?", StatusPurged).
		Order("pinned DESC, created_at_s DESC, note_id DESC")
	if !filter.IncludeArchived {
		query = query.Where("status = ?", StatusActive)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		term := "%" + search + "%"
		query = query.Where("title LIKE ? OR body LIKE ? OR tags_text LIKE ?", term, term, term)
	}

	var notes []Note
	if err := query.Find(&notes).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, NewServiceError(opList, "query_failed", err)
	}

	if wanted := normalizeOneTag(filter.Tag); wanted != "" {
		filtered := notes[:0]
		for _, note := range notes {
			if containsTag(note.Tags(), wanted) {
				filtered = append(filtered, note)
			}
		}
		notes = filtered
	}
	return notes, nil
}

// Edit replaces a note's content. Only active notes are editable; archived
// notes must be unarchived first and purged notes never mutate again. The
// pre-edit state is snapshotted into history inside the same transaction.
func (s *Service) Edit(ctx context.Context, noteID string, input CreateInput) (Note, error) {
	return s.mutate(ctx, opEdit, noteID, MutationEdit, StatusActive, func(note *Note) {
		note.Title = input.Title
		note.Body = input.Body
		note.TagsText = SerializeTags(input.Tags)
		note.Pinned = input.Pinned
	})
}

// Archive moves an active note to the archived state, snapshotting first.
func (s *Service) Archive(ctx context.Context, noteID string) (Note, error) {
	return s.mutate(ctx, opArchive, noteID, MutationArchive, StatusActive, func(note *Note) {
		note.Status = StatusArchived
	})
}

// Unarchive moves an archived note back to active, snapshotting first.
func (s *Service) Unarchive(ctx context.Context, noteID string) (Note, error) {
	return s.mutate(ctx, opUnarchive, noteID, MutationUnarchive, StatusArchived, func(note *Note) {
		note.Status = StatusActive
	})
}

// mutate runs one lifecycle transition: load, state check, history snapshot and
// a version-guarded note update, all in a single transaction. A lost version
// race rolls the snapshot back and retries a bounded number of times.
func (s *Service) mutate(ctx context.Context, operation, noteID string, kind MutationKind, required Status, apply func(*Note)) (Note, error) {
	var updated Note
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var note Note
			if err := tx.Where("note_id = ?", noteID).Take(&note).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return NewServiceError(operation, "note_not_found", ErrNoteNotFound)
				}
				return NewServiceError(operation, "note_select_failed", err)
			}
			if note.Status != required {
				return NewServiceError(operation, "invalid_state", ErrInvalidState)
			}

			entryID, err := s.idProvider.NewID()
			if err != nil {
				return NewServiceError(operation, "id_generation_failed", err)
			}
			now := s.clock().UTC().Unix()
			snapshot := HistoryEntry{
				EntryID:           entryID,
				NoteID:            note.NoteID,
				Version:           note.Version,
				Kind:              kind,
				Title:             note.Title,
				Body:              note.Body,
				TagsText:          note.TagsText,
				Pinned:            note.Pinned,
				CapturedAtSeconds: now,
			}
			if err := tx.Create(&snapshot).Error; err != nil {
				return NewServiceError(operation, "history_insert_failed", err)
			}

			previousVersion := note.Version
			apply(&note)
			note.Version = previousVersion + 1
			note.UpdatedAtSeconds = now

			result := tx.Model(&Note{}).
				Where("note_id = ? AND version = ?", note.NoteID, previousVersion).
				Updates(map[string]interface{}{
					"title":        note.Title,
					"body":         note.Body,
					"tags_text":    note.TagsText,
					"pinned":       note.Pinned,
					"status":       note.Status,
					"version":      note.Version,
					"updated_at_s": note.UpdatedAtSeconds,
				})
			if result.Error != nil {
				return NewServiceError(operation, "note_update_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				return NewServiceError(operation, "version_conflict", ErrVersionConflict)
			}

			updated = note
			return nil
		})
		if txErr == nil {
			return updated, nil
		}
		if errors.Is(txErr, ErrVersionConflict) && attempt < maxConflictRetries-1 {
			s.logger.Debug("retrying after version conflict",
				zap.String("operation", operation),
				zap.String("note_id", noteID),
				zap.Int("attempt", attempt+1))
			continue
		}
		if !errors.Is(txErr, ErrNoteNotFound) && !errors.Is(txErr, ErrInvalidState) {
			s.logError(operation, "mutation_failed", txErr, zap.String("note_id", noteID))
		}
		return Note{}, txErr
	}
	return Note{}, NewServiceError(operation, "version_conflict", ErrVersionConflict)
}

// Purge hard-deletes a note's dependents and collapses the record into a
// content-free tombstone. Blobs go first, then attachment rows, history and
// the note content inside one transaction, so a crash mid-purge can orphan
// dependents but never leave a live note referencing deleted ones. Share
// token rows are kept so later resolution reports the note as gone.
func (s *Service) Purge(ctx context.Context, noteID string) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var note Note
		err := s.db.WithContext(ctx).Where("note_id = ?", noteID).Take(&note).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewServiceError(opPurge, "note_not_found", ErrNoteNotFound)
		}
		if err != nil {
			s.logError(opPurge, "note_select_failed", err, zap.String("note_id", noteID))
			return NewServiceError(opPurge, "note_select_failed", err)
		}
		if note.Status == StatusPurged {
			return NewServiceError(opPurge, "already_purged", ErrInvalidState)
		}

		var attachments []Attachment
		if err := s.db.WithContext(ctx).Where("note_id = ?", noteID).Find(&attachments).Error; err != nil {
			s.logError(opPurge, "attachment_list_failed", err, zap.String("note_id", noteID))
			return NewServiceError(opPurge, "attachment_list_failed", err)
		}
		if s.blobs != nil {
			for _, attachment := range attachments {
				if err := s.blobs.Delete(ctx, attachment.AttachmentID); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
					s.logger.Warn("blob cleanup failed during purge",
						zap.String("note_id", noteID),
						zap.String("attachment_id", attachment.AttachmentID),
						zap.Error(err))
				}
			}
		}

		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("note_id = ?", noteID).Delete(&Attachment{}).Error; err != nil {
				return NewServiceError(opPurge, "attachment_delete_failed", err)
			}
			if err := tx.Where("note_id = ?", noteID).Delete(&HistoryEntry{}).Error; err != nil {
				return NewServiceError(opPurge, "history_delete_failed", err)
			}
			result := tx.Model(&Note{}).
				Where("note_id = ? AND version = ?", noteID, note.Version).
				Updates(map[string]interface{}{
					"title":        "",
					"body":         "",
					"tags_text":    "",
					"pinned":       false,
					"status":       StatusPurged,
					"updated_at_s": s.clock().UTC().Unix(),
				})
			if result.Error != nil {
				return NewServiceError(opPurge, "note_update_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				return NewServiceError(opPurge, "version_conflict", ErrVersionConflict)
			}
			return nil
		})
		if txErr == nil {
			return nil
		}
		if errors.Is(txErr, ErrVersionConflict) && attempt < maxConflictRetries-1 {
			continue
		}
		s.logError(opPurge, "cascade_failed", txErr, zap.String("note_id", noteID))
		return txErr
	}
	return NewServiceError(opPurge, "version_conflict", ErrVersionConflict)
}

// ListHistory returns a note's history entries oldest-first. A note at version
// N yields exactly N-1 entries covering versions 1..N-1. Purged notes have an
// empty history.
func (s *Service) ListHistory(ctx context.Context, noteID string) ([]HistoryEntry, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Note{}).Where("note_id = ?", noteID).Count(&count).Error; err != nil {
		s.logError(opListHistory, "note_select_failed", err, zap.String("note_id", noteID))
		return nil, NewServiceError(opListHistory, "note_select_failed", err)
	}
	if count == 0 {
		return nil, NewServiceError(opListHistory, "note_not_found", ErrNoteNotFound)
	}

	var entries []HistoryEntry
	if err := s.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Order("version ASC").
		Find(&entries).Error; err != nil {
		s.logError(opListHistory, "query_failed", err, zap.String("note_id", noteID))
		return nil, NewServiceError(opListHistory, "query_failed", err)
	}
	return entries, nil
}

func (s *Service) loadNote(ctx context.Context, operation, noteID string) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("note_id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, NewServiceError(operation, "note_not_found", ErrNoteNotFound)
	}
	if err != nil {
		s.logError(operation, "note_select_failed", err, zap.String("note_id", noteID))
		return Note{}, NewServiceError(operation, "note_select_failed", err)
	}
	return note, nil
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
	s.logger.Error("notes service error", attrs...)
}

func normalizeOneTag(tag string) string {
	normalized := NormalizeTags([]string{tag})
	if len(normalized) == 0 {
		return ""
	}
	return normalized[0]
}

func containsTag(tags []string, wanted string) bool {
	for _, tag := range tags {
		if tag == wanted {
			return true
		}
	}
	return false
}

// Package attachments validates, stores and serves files uploaded against
// notes. Bytes live in a blob store, metadata in the relational store; the
// two are reconciled with best-effort compensation when a write straddling
// both stores fails halfway.
package attachments

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pressleaf/notesd/internal/blobstore"
	"github.com/pressleaf/notesd/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingBlobStore  = errors.New("blob store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errInvalidMaxSize    = errors.New("maximum upload size must be positive")
	errMissingFilename   = errors.New("filename is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "attachments.service.new"
	opUpload     = "attachments.upload"
	opDownload   = "attachments.download"
	opList       = "attachments.list"
	opDelete     = "attachments.delete"
	opPreview    = "attachments.preview"
)

const defaultContentType = "application/octet-stream"

// ServiceConfig carries the dependencies and limits of the attachment manager.
type ServiceConfig struct {
	Database   *gorm.DB
	Blobs      blobstore.Store
	Clock      func() time.Time
	IDProvider notes.IDProvider
	Logger     *zap.Logger
	// MaxUploadBytes caps both declared and actual streamed upload sizes.
	MaxUploadBytes int64
	// PreviewFormats lists the filename extensions (without dot) that the
	// preview extractor accepts, e.g. "pptx".
	PreviewFormats []string
}

// Service is the attachment manager.
type Service struct {
	db             *gorm.DB
	blobs          blobstore.Store
	clock          func() time.Time
	idProvider     notes.IDProvider
	logger         *zap.Logger
	maxUploadBytes int64
	previewFormats map[string]struct{}
}

// NewService validates the configuration and constructs an attachment manager.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, notes.NewServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Blobs == nil {
		return nil, notes.NewServiceError(opServiceNew, "missing_blob_store", errMissingBlobStore)
	}
	if cfg.IDProvider == nil {
		return nil, notes.NewServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, notes.NewServiceError(opServiceNew, "invalid_max_size", errInvalidMaxSize)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	formats := make(map[string]struct{}, len(cfg.PreviewFormats))
	for _, format := range cfg.PreviewFormats {
		formats[normalizeFormat(format)] = struct{}{}
	}

	return &Service{
		db:             cfg.Database,
		blobs:          cfg.Blobs,
		clock:          clock,
		idProvider:     cfg.IDProvider,
		logger:         logger,
		maxUploadBytes: cfg.MaxUploadBytes,
		previewFormats: formats,
	}, nil
}

// Upload streams bytes to the blob store under a fresh id and commits the
// metadata row. DeclaredSize below zero means unknown; a known size over the
// cap fails before any byte is streamed. If the metadata commit fails after
// the bytes are written, the orphaned blob is removed best-effort.
func (s *Service) Upload(ctx context.Context, noteID, filename, contentType string, body io.Reader, declaredSize int64) (notes.Attachment, error) {
	if filename == "" {
		return notes.Attachment{}, notes.NewServiceError(opUpload, "missing_filename", errMissingFilename)
	}
	if declaredSize > s.maxUploadBytes {
		return notes.Attachment{}, notes.NewServiceError(opUpload, "declared_size_too_large", notes.ErrPayloadTooLarge)
	}

	note, err := s.loadNote(ctx, opUpload, noteID)
	if err != nil {
		return notes.Attachment{}, err
	}
	if note.Status == notes.StatusPurged {
		return notes.Attachment{}, notes.NewServiceError(opUpload, "note_purged", notes.ErrInvalidState)
	}

	attachmentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpload, "id_generation_failed", err, zap.String("note_id", noteID))
		return notes.Attachment{}, notes.NewServiceError(opUpload, "id_generation_failed", err)
	}

	size, err := s.blobs.Put(ctx, attachmentID, body, s.maxUploadBytes)
	if err != nil {
		if errors.Is(err, blobstore.ErrTooLarge) {
			return notes.Attachment{}, notes.NewServiceError(opUpload, "stream_too_large", notes.ErrPayloadTooLarge)
		}
		s.logError(opUpload, "blob_write_failed", err,
			zap.String("note_id", noteID),
			zap.String("attachment_id", attachmentID))
		return notes.Attachment{}, notes.NewServiceError(opUpload, "blob_write_failed", err)
	}

	if contentType == "" {
		contentType = defaultContentType
	}
	attachment := notes.Attachment{
		AttachmentID:      attachmentID,
		NoteID:            noteID,
		Filename:          filename,
		ContentType:       contentType,
		SizeBytes:         size,
		UploadedAtSeconds: s.clock().UTC().Unix(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check inside the transaction; a purge may have raced the stream.
		var current notes.Note
		if err := tx.Where("note_id = ?", noteID).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notes.NewServiceError(opUpload, "note_not_found", notes.ErrNoteNotFound)
			}
			return notes.NewServiceError(opUpload, "note_select_failed", err)
		}
		if current.Status == notes.StatusPurged {
			return notes.NewServiceError(opUpload, "note_purged", notes.ErrInvalidState)
		}
		if err := tx.Create(&attachment).Error; err != nil {
			return notes.NewServiceError(opUpload, "metadata_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if cleanupErr := s.blobs.Delete(ctx, attachmentID); cleanupErr != nil {
			s.logger.Warn("orphaned blob cleanup failed after metadata commit failure",
				zap.String("attachment_id", attachmentID),
				zap.Error(cleanupErr))
		}
		if !errors.Is(txErr, notes.ErrNoteNotFound) && !errors.Is(txErr, notes.ErrInvalidState) {
			s.logError(opUpload, "metadata_commit_failed", txErr, zap.String("note_id", noteID))
		}
		return notes.Attachment{}, txErr
	}

	return attachment, nil
}

// Download returns the metadata row and an open stream over the stored bytes.
// The caller owns closing the stream.
func (s *Service) Download(ctx context.Context, attachmentID string) (notes.Attachment, io.ReadCloser, error) {
	attachment, err := s.loadAttachment(ctx, opDownload, attachmentID)
	if err != nil {
		return notes.Attachment{}, nil, err
	}

	stream, err := s.blobs.Get(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return notes.Attachment{}, nil, notes.NewServiceError(opDownload, "blob_missing", notes.ErrAttachmentNotFound)
		}
		s.logError(opDownload, "blob_read_failed", err, zap.String("attachment_id", attachmentID))
		return notes.Attachment{}, nil, notes.NewServiceError(opDownload, "blob_read_failed", err)
	}
	return attachment, stream, nil
}

// List returns a note's attachments newest-first.
func (s *Service) List(ctx context.Context, noteID string) ([]notes.Attachment, error) {
	if _, err := s.loadNote(ctx, opList, noteID); err != nil {
		return nil, err
	}

	var items []notes.Attachment
	if err := s.db.WithContext(ctx).
		Where("note_id = ?", noteID).
		Order("uploaded_at_s DESC, attachment_id DESC").
		Find(&items).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("note_id", noteID))
		return nil, notes.NewServiceError(opList, "query_failed", err)
	}
	return items, nil
}

// Delete removes the metadata row first and then the blob. A blob deletion
// failure after the row is gone is logged as an inconsistency but does not
// fail the request; the sweep of unreferenced blobs is eventual.
func (s *Service) Delete(ctx context.Context, attachmentID string) error {
	if _, err := s.loadAttachment(ctx, opDelete, attachmentID); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Where("attachment_id = ?", attachmentID).Delete(&notes.Attachment{}).Error; err != nil {
		s.logError(opDelete, "metadata_delete_failed", err, zap.String("attachment_id", attachmentID))
		return notes.NewServiceError(opDelete, "metadata_delete_failed", err)
	}

	if err := s.blobs.Delete(ctx, attachmentID); err != nil {
		s.logger.Warn("blob deletion failed after metadata removal",
			zap.String("attachment_id", attachmentID),
			zap.Error(err))
	}
	return nil
}

func (s *Service) loadNote(ctx context.Context, operation, noteID string) (notes.Note, error) {
	var note notes.Note
	err := s.db.WithContext(ctx).Where("note_id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notes.Note{}, notes.NewServiceError(operation, "note_not_found", notes.ErrNoteNotFound)
	}
	if err != nil {
		s.logError(operation, "note_select_failed", err, zap.String("note_id", noteID))
		return notes.Note{}, notes.NewServiceError(operation, "note_select_failed", err)
	}
	return note, nil
}

func (s *Service) loadAttachment(ctx context.Context, operation, attachmentID string) (notes.Attachment, error) {
	var attachment notes.Attachment
	err := s.db.WithContext(ctx).Where("attachment_id = ?", attachmentID).Take(&attachment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notes.Attachment{}, notes.NewServiceError(operation, "attachment_not_found", notes.ErrAttachmentNotFound)
	}
	if err != nil {
		s.logError(operation, "attachment_select_failed", err, zap.String("attachment_id", attachmentID))
		return notes.Attachment{}, notes.NewServiceError(operation, "attachment_select_failed", err)
	}
	return attachment, nil
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
	s.logger.Error("attachments service error", attrs...)
}

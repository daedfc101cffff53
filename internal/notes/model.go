package notes

import (
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the lifecycle states of a note.
type Status string

const (
	// StatusActive marks a note that accepts edits, attachments and shares.
	StatusActive Status = "active"
	// StatusArchived marks a read-only note that can be unarchived or purged.
	StatusArchived Status = "archived"
	// StatusPurged is terminal; the record is a content-free tombstone.
	StatusPurged Status = "purged"
)

// MutationKind tags the transition that produced a history snapshot.
type MutationKind string

const (
	MutationEdit      MutationKind = "edit"
	MutationArchive   MutationKind = "archive"
	MutationUnarchive MutationKind = "unarchive"
)

const maxIdentifierLength = 190

// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
var ErrInvalidNoteID = errors.New("notes: invalid note id")

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// Note models the persisted note record. Version is monotonic and increments
// exactly when a history entry is appended, so a note at version N always has
// N-1 history entries covering versions 1..N-1.
type Note struct {
	NoteID           string `gorm:"column:note_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:255;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	TagsText         string `gorm:"column:tags_text;size:1024;not null;default:''"`
	Pinned           bool   `gorm:"column:pinned;not null;default:false"`
	Status           Status `gorm:"column:status;size:16;not null;default:'active';index:idx_notes_status_updated,priority:1"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_notes_status_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Tags exposes the normalized tag list stored in TagsText.
func (n Note) Tags() []string {
	return ParseTags(n.TagsText)
}

// HistoryEntry is an immutable pre-mutation snapshot of a note. Version equals
// the note's version before the mutation that created the entry.
type HistoryEntry struct {
	EntryID           string       `gorm:"column:entry_id;primaryKey;size:190;not null"`
	NoteID            string       `gorm:"column:note_id;size:190;not null;uniqueIndex:idx_history_note_version,priority:1"`
	Version           int64        `gorm:"column:version;not null;uniqueIndex:idx_history_note_version,priority:2"`
	Kind              MutationKind `gorm:"column:kind;size:32;not null"`
	Title             string       `gorm:"column:title;size:255;not null"`
	Body              string       `gorm:"column:body;type:text;not null"`
	TagsText          string       `gorm:"column:tags_text;size:1024;not null;default:''"`
	Pinned            bool         `gorm:"column:pinned;not null;default:false"`
	CapturedAtSeconds int64        `gorm:"column:captured_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (HistoryEntry) TableName() string {
	return "note_history"
}

// Tags exposes the normalized tag list snapshotted in TagsText.
func (e HistoryEntry) Tags() []string {
	return ParseTags(e.TagsText)
}

// Attachment holds the metadata row for an uploaded file. AttachmentID doubles
// as the blob key in the blob store.
type Attachment struct {
	AttachmentID      string `gorm:"column:attachment_id;primaryKey;size:190;not null"`
	NoteID            string `gorm:"column:note_id;size:190;not null;index:idx_attachments_note"`
	Filename          string `gorm:"column:filename;size:255;not null"`
	ContentType       string `gorm:"column:content_type;size:255;not null"`
	SizeBytes         int64  `gorm:"column:size_bytes;not null"`
	UploadedAtSeconds int64  `gorm:"column:uploaded_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Attachment) TableName() string {
	return "attachments"
}

// ShareToken grants read-only access to the current state of a single note.
// Token values are issued from a cryptographically strong random source.
type ShareToken struct {
	Token            string `gorm:"column:token;primaryKey;size:64;not null"`
	NoteID           string `gorm:"column:note_id;size:190;not null;index:idx_share_tokens_note"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ShareToken) TableName() string {
	return "share_tokens"
}

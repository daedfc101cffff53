package notes

import (
	"errors"
	"fmt"
)

// Domain error kinds. Services wrap these as the cause of a coded
// ServiceError so callers can branch with errors.Is while logs keep the
// operation-specific code.
var (
	// ErrNoteNotFound indicates an unknown note identifier.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrAttachmentNotFound indicates an unknown attachment identifier.
	ErrAttachmentNotFound = errors.New("notes: attachment not found")
	// ErrTokenNotFound indicates an unknown share token.
	ErrTokenNotFound = errors.New("notes: share token not found")
	// ErrInvalidState indicates an operation illegal for the note's current lifecycle state.
	ErrInvalidState = errors.New("notes: operation not permitted in current lifecycle state")
	// ErrVersionConflict indicates a concurrent mutation won the version race.
	ErrVersionConflict = errors.New("notes: concurrent version conflict")
	// ErrPayloadTooLarge indicates an upload exceeding the configured maximum size.
	ErrPayloadTooLarge = errors.New("notes: payload exceeds maximum size")
	// ErrUnsupportedFormat indicates a preview request for a format without an extractor.
	ErrUnsupportedFormat = errors.New("notes: unsupported preview format")
	// ErrShareGone indicates a share token whose note has been purged.
	ErrShareGone = errors.New("notes: shared note has been purged")
)

// ServiceError carries an operation-scoped code alongside the causing error.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation-scoped error code.
func (e *ServiceError) Code() string {
	return e.code
}

// NewServiceError builds a coded error of the form "<operation>.<reason>".
func NewServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

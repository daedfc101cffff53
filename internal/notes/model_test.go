package notes

import (
	"errors"
	"strings"
	"testing"
)

func TestNewNoteIDTrimsWhitespace(t *testing.T) {
	id, err := NewNoteID("  note-1  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "note-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}

func TestNewNoteIDRejectsEmpty(t *testing.T) {
	if _, err := NewNoteID("   "); !errors.Is(err, ErrInvalidNoteID) {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestNewNoteIDRejectsOverlongValues(t *testing.T) {
	if _, err := NewNoteID(strings.Repeat("x", maxIdentifierLength+1)); !errors.Is(err, ErrInvalidNoteID) {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pressleaf/notesd/internal/notes"
)

type noteRequestPayload struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Tags   []string `json:"tags"`
	Pinned bool     `json:"pinned"`
}

type noteResponsePayload struct {
	NoteID           string   `json:"id"`
	Title            string   `json:"title"`
	Body             string   `json:"body"`
	Tags             []string `json:"tags"`
	Pinned           bool     `json:"pinned"`
	Status           string   `json:"status"`
	Version          int64    `json:"version"`
	CreatedAtSeconds int64    `json:"created_at_s"`
	UpdatedAtSeconds int64    `json:"updated_at_s"`
}

func toNoteResponse(note notes.Note) noteResponsePayload {
	return noteResponsePayload{
		NoteID:           note.NoteID,
		Title:            note.Title,
		Body:             note.Body,
		Tags:             tagsOrEmpty(note.Tags()),
		Pinned:           note.Pinned,
		Status:           string(note.Status),
		Version:          note.Version,
		CreatedAtSeconds: note.CreatedAtSeconds,
		UpdatedAtSeconds: note.UpdatedAtSeconds,
	}
}

// noteIDParam validates the :id path parameter before it reaches the domain
// layer. Malformed identifiers are rejected up front.
func noteIDParam(c *gin.Context) (string, bool) {
	noteID, err := notes.NewNoteID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return "", false
	}
	return noteID.String(), true
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	includeArchived, _ := strconv.ParseBool(c.DefaultQuery("include_archived", "false"))
	filter := notes.ListFilter{
		Search:          c.Query("search"),
		Tag:             c.Query("tag"),
		IncludeArchived: includeArchived,
	}

	items, err := h.notes.List(c.Request.Context(), filter)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	response := make([]noteResponsePayload, 0, len(items))
	for _, note := range items {
		response = append(response, toNoteResponse(note))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.notes.Create(c.Request.Context(), notes.CreateInput{
		Title:  request.Title,
		Body:   request.Body,
		Tags:   request.Tags,
		Pinned: request.Pinned,
	})
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNoteResponse(note))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	note, err := h.notes.Get(c.Request.Context(), noteID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNoteResponse(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.notes.Edit(c.Request.Context(), noteID, notes.CreateInput{
		Title:  request.Title,
		Body:   request.Body,
		Tags:   request.Tags,
		Pinned: request.Pinned,
	})
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNoteResponse(note))
}

func (h *httpHandler) handleArchiveNote(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	note, err := h.notes.Archive(c.Request.Context(), noteID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNoteResponse(note))
}

func (h *httpHandler) handleUnarchiveNote(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	note, err := h.notes.Unarchive(c.Request.Context(), noteID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNoteResponse(note))
}

// handleSoftDeleteNote treats DELETE on a note as archival, tolerating repeat
// deletes of an already-archived note.
func (h *httpHandler) handleSoftDeleteNote(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	_, err := h.notes.Archive(c.Request.Context(), noteID)
	if errors.Is(err, notes.ErrInvalidState) {
		if note, getErr := h.notes.Get(c.Request.Context(), noteID); getErr == nil && note.Status == notes.StatusArchived {
			err = nil
		}
	}
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": noteID})
}

func (h *httpHandler) handlePurgeNote(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	if err := h.notes.Purge(c.Request.Context(), noteID); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": noteID})
}

type historyEntryPayload struct {
	Version           int64    `json:"version"`
	Kind              string   `json:"kind"`
	Title             string   `json:"title"`
	Body              string   `json:"body"`
	Tags              []string `json:"tags"`
	Pinned            bool     `json:"pinned"`
	CapturedAtSeconds int64    `json:"captured_at_s"`
}

func (h *httpHandler) handleListHistory(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	entries, err := h.notes.ListHistory(c.Request.Context(), noteID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	// Domain order is oldest-first; the API serves newest-first.
	response := make([]historyEntryPayload, 0, len(entries))
	for index := len(entries) - 1; index >= 0; index-- {
		entry := entries[index]
		response = append(response, historyEntryPayload{
			Version:           entry.Version,
			Kind:              string(entry.Kind),
			Title:             entry.Title,
			Body:              entry.Body,
			Tags:              tagsOrEmpty(entry.Tags()),
			Pinned:            entry.Pinned,
			CapturedAtSeconds: entry.CapturedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, response)
}

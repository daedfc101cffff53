package server

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pressleaf/notesd/internal/notes"
	"go.uber.org/zap"
)

type attachmentResponsePayload struct {
	AttachmentID      string `json:"id"`
	NoteID            string `json:"note_id"`
	Filename          string `json:"filename"`
	ContentType       string `json:"content_type"`
	SizeBytes         int64  `json:"size_bytes"`
	UploadedAtSeconds int64  `json:"uploaded_at_s"`
	DownloadURL       string `json:"download_url"`
}

func toAttachmentResponse(attachment notes.Attachment) attachmentResponsePayload {
	return attachmentResponsePayload{
		AttachmentID:      attachment.AttachmentID,
		NoteID:            attachment.NoteID,
		Filename:          attachment.Filename,
		ContentType:       attachment.ContentType,
		SizeBytes:         attachment.SizeBytes,
		UploadedAtSeconds: attachment.UploadedAtSeconds,
		DownloadURL:       fmt.Sprintf("/api/attachments/%s/download", attachment.AttachmentID),
	}
}

// handleUploadAttachment streams the multipart file part directly into the
// attachment manager without buffering the payload in memory.
func (h *httpHandler) handleUploadAttachment(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	reader, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	part, err := nextFilePart(reader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_part_required"})
		return
	}
	defer part.Close()

	filename := filepath.Base(part.FileName())
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename_required"})
		return
	}

	// The request Content-Length bounds the file part from above, which makes
	// it a usable declared-size pre-check before any byte is streamed.
	attachment, err := h.attachments.Upload(
		c.Request.Context(),
		noteID,
		filename,
		part.Header.Get("Content-Type"),
		part,
		c.Request.ContentLength,
	)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAttachmentResponse(attachment))
}

func nextFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func (h *httpHandler) handleListAttachments(c *gin.Context) {
	noteID, ok := noteIDParam(c)
	if !ok {
		return
	}
	items, err := h.attachments.List(c.Request.Context(), noteID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	response := make([]attachmentResponsePayload, 0, len(items))
	for _, item := range items {
		response = append(response, toAttachmentResponse(item))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleDownloadAttachment(c *gin.Context) {
	attachment, stream, err := h.attachments.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			h.logger.Warn("closing attachment stream failed", zap.Error(closeErr))
		}
	}()

	inline, _ := strconv.ParseBool(c.DefaultQuery("inline", "false"))
	disposition := fmt.Sprintf("attachment; filename=%q", attachment.Filename)
	if inline {
		disposition = "inline"
	}

	c.DataFromReader(http.StatusOK, attachment.SizeBytes, attachment.ContentType, stream, map[string]string{
		"Content-Disposition": disposition,
	})
}

type slidePreviewPayload struct {
	Slide int    `json:"slide"`
	Text  string `json:"text"`
}

func (h *httpHandler) handlePreviewAttachment(c *gin.Context) {
	slides, err := h.attachments.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeDomainError(c, err)
		return
	}

	response := make([]slidePreviewPayload, 0, len(slides))
	for _, slide := range slides {
		response = append(response, slidePreviewPayload{Slide: slide.Slide, Text: slide.Text})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleDeleteAttachment(c *gin.Context) {
	attachmentID := c.Param("id")
	if err := h.attachments.Delete(c.Request.Context(), attachmentID); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": attachmentID})
}

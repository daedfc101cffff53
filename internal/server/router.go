package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pressleaf/notesd/internal/attachments"
	"github.com/pressleaf/notesd/internal/blobstore"
	"github.com/pressleaf/notesd/internal/notes"
	"github.com/pressleaf/notesd/internal/sharing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingNotesService       = errors.New("notes service dependency required")
	errMissingAttachmentsService = errors.New("attachments service dependency required")
	errMissingSharingService     = errors.New("sharing service dependency required")
	errMissingDatabase           = errors.New("database dependency required")
)

// Dependencies wires the domain services into the HTTP layer.
type Dependencies struct {
	NotesService       *notes.Service
	AttachmentsService *attachments.Service
	SharingService     *sharing.Service
	Database           *gorm.DB
	Logger             *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the notes API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.AttachmentsService == nil {
		return nil, errMissingAttachmentsService
	}
	if deps.SharingService == nil {
		return nil, errMissingSharingService
	}
	if deps.Database == nil {
		return nil, errMissingDatabase
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		notes:       deps.NotesService,
		attachments: deps.AttachmentsService,
		sharing:     deps.SharingService,
		db:          deps.Database,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealthz)
	router.GET("/readyz", handler.handleReadyz)

	api := router.Group("/api")
	api.GET("/notes", handler.handleListNotes)
	api.POST("/notes", handler.handleCreateNote)
	api.GET("/notes/:id", handler.handleGetNote)
	api.PUT("/notes/:id", handler.handleUpdateNote)
	api.DELETE("/notes/:id", handler.handleSoftDeleteNote)
	api.POST("/notes/:id/archive", handler.handleArchiveNote)
	api.POST("/notes/:id/unarchive", handler.handleUnarchiveNote)
	api.DELETE("/notes/:id/purge", handler.handlePurgeNote)
	api.GET("/notes/:id/history", handler.handleListHistory)
	api.POST("/notes/:id/attachments", handler.handleUploadAttachment)
	api.GET("/notes/:id/attachments", handler.handleListAttachments)
	api.GET("/attachments/:id/download", handler.handleDownloadAttachment)
	api.GET("/attachments/:id/preview", handler.handlePreviewAttachment)
	api.DELETE("/attachments/:id", handler.handleDeleteAttachment)
	api.POST("/notes/:id/share", handler.handleIssueShare)
	api.GET("/share/:token", handler.handleResolveShare)
	api.DELETE("/share/:token", handler.handleRevokeShare)

	router.GET("/share/:token", handler.handleSharePage)

	return router, nil
}

type httpHandler struct {
	notes       *notes.Service
	attachments *attachments.Service
	sharing     *sharing.Service
	db          *gorm.DB
	logger      *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleReadyz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// writeDomainError translates domain error kinds into HTTP status codes.
func (h *httpHandler) writeDomainError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, notes.ErrNoteNotFound),
		errors.Is(err, notes.ErrAttachmentNotFound),
		errors.Is(err, notes.ErrTokenNotFound),
		errors.Is(err, blobstore.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, notes.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, notes.ErrVersionConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, notes.ErrPayloadTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, notes.ErrUnsupportedFormat):
		status, code = http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, notes.ErrShareGone):
		status, code = http.StatusGone, "gone"
	case errors.Is(err, blobstore.ErrQuotaExceeded):
		status, code = http.StatusInsufficientStorage, "quota_exceeded"
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

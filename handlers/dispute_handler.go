package handlers

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"dispute-assistant/models"
	"dispute-assistant/repository"
	"dispute-assistant/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed index.html
var indexPage []byte

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// RunReader loads stored runs
type RunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
}

// DisputeHandler handles HTTP requests for uploads and pipeline runs
type DisputeHandler struct {
	sessions         *service.SessionService
	pipeline         *service.Pipeline
	runs             RunReader
	exporter         *service.ExportService
	logger           *zap.Logger
	maxFileSize      int64
	allowedMimeTypes map[string]bool
}

// NewDisputeHandler creates a new dispute handler
func NewDisputeHandler(
	sessions *service.SessionService,
	pipeline *service.Pipeline,
	runs RunReader,
	exporter *service.ExportService,
	logger *zap.Logger,
	maxFileSize int64,
) *DisputeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024 // 10MB
	}
	return &DisputeHandler{
		sessions:    sessions,
		pipeline:    pipeline,
		runs:        runs,
		exporter:    exporter,
		logger:      logger,
		maxFileSize: maxFileSize,
		allowedMimeTypes: map[string]bool{
			"image/png":  true,
			"image/jpeg": true,
			"image/gif":  true,
			"image/bmp":  true,
			"image/tiff": true,
			"image/webp": true,
		},
	}
}

// RegisterRoutes mounts the handler on a router
func (h *DisputeHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/", h.Index)
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.POST("/uploads", h.Upload)
		api.GET("/sessions/:id/uploads", h.ListUploads)
		api.POST("/runs", h.StartRun)
		api.GET("/runs/export", h.ExportRuns)
		api.GET("/runs/:id", h.GetRun)
	}
}

// Index handles GET /
func (h *DisputeHandler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
}

// Health handles GET /health
func (h *DisputeHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Upload handles POST /api/uploads
func (h *DisputeHandler) Upload(c *gin.Context) {
	creds := models.CallCredentials{
		AccountSID: c.PostForm("twilio_sid"),
		AuthToken:  c.PostForm("twilio_token"),
		FromNumber: c.PostForm("twilio_from_number"),
		ToNumber:   c.PostForm("twilio_to_number"),
	}
	if !creds.Complete() {
		respondError(c, http.StatusBadRequest, "MISSING_CREDENTIALS", "All Twilio credentials are required")
		return
	}

	slot, err := models.ParseSlot(c.PostForm("type"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_TYPE", "type must be personal or contact")
		return
	}

	var sessionID uuid.UUID
	if s := c.PostForm("session_id"); s != "" {
		sessionID, err = uuid.Parse(s)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_SESSION_ID", "Invalid session_id format")
			return
		}
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "File is required")
		return
	}
	if fileHeader.Filename == "" {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "No selected file")
		return
	}
	if fileHeader.Size == 0 {
		respondError(c, http.StatusBadRequest, "EMPTY_FILE", "Uploaded file is empty")
		return
	}
	if fileHeader.Size > h.maxFileSize {
		respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeFromName(fileHeader.Filename)
	}
	if !h.allowedMimeTypes[mimeType] {
		respondError(c, http.StatusBadRequest, "INVALID_FILE_TYPE",
			"File type not allowed. Allowed types: PNG, JPEG, GIF, BMP, TIFF, WEBP")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}
	defer file.Close()

	upload, err := h.sessions.SaveUpload(c.Request.Context(), service.SaveUploadRequest{
		SessionID:   sessionID,
		Slot:        string(slot),
		Filename:    fileHeader.Filename,
		MimeType:    mimeType,
		Data:        file,
		Credentials: creds,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyUpload):
			respondError(c, http.StatusBadRequest, "EMPTY_FILE", "Uploaded file is empty")
		default:
			h.logger.Error("upload failed", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "UPLOAD_FAILED", fmt.Sprintf("Failed to upload file: %v", err))
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"session_id": upload.SessionID,
			"upload_id":  upload.ID,
			"type":       upload.Slot,
			"filename":   upload.Filename,
			"mime_type":  upload.MimeType,
			"size":       upload.Size,
			"checksum":   upload.Checksum,
			"created_at": upload.CreatedAt,
		},
	})
}

// ListUploads handles GET /api/sessions/:id/uploads
func (h *DisputeHandler) ListUploads(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_SESSION_ID", "Invalid session_id format")
		return
	}

	uploads, err := h.sessions.ListUploads(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "Session not found")
			return
		}
		h.logger.Error("list uploads failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    uploads,
	})
}

// StartRunRequest represents the request body for starting a run
type StartRunRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	PlaceCall bool   `json:"place_call"`
}

// StartRun handles POST /api/runs. The pipeline runs synchronously.
func (h *DisputeHandler) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "session_id is required")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_SESSION_ID", "Invalid session_id format")
		return
	}

	sess, release := h.sessions.Acquire(sessionID)
	defer release()

	result, err := h.pipeline.Run(c.Request.Context(), service.RunInputFromSession(sess, req.PlaceCall))
	if err != nil {
		if result == nil {
			h.logger.Error("run could not start", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "RUN_ERROR", "Failed to start run")
			return
		}
		status, code := http.StatusUnprocessableEntity, "RUN_FAILED"
		if errors.Is(err, service.ErrMissingImages) {
			status, code = http.StatusBadRequest, "MISSING_FILES"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": result.Error,
				"run_id":  result.RunID,
			},
		})
		return
	}

	verdict := result.Record.Verdict
	data := gin.H{
		"run_id":             result.RunID,
		"status":             result.Status,
		"message":            "Dispute processed successfully",
		"dispute_category":   verdict.PrimaryCategory,
		"confidence":         verdict.Confidence,
		"suggested_template": verdict.SuggestedTemplate,
		"call_attempted":     result.CallAttempted,
		"artifacts":          result.Artifacts,
		"record":             result.Record,
	}
	if result.Letter.Unsupported {
		data["template_error"] = result.Letter.Err().Error()
	} else {
		data["letter"] = result.Letter.Text
		data["call_script"] = result.CallScript.Text
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// GetRun handles GET /api/runs/:id
func (h *DisputeHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid run ID format")
		return
	}

	run, err := h.runs.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "Run not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    run,
	})
}

// ExportRuns handles GET /api/runs/export?limit=N
func (h *DisputeHandler) ExportRuns(c *gin.Context) {
	limit := 100
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	data, err := h.exporter.ExportRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("export failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "EXPORT_FAILED", err.Error())
		return
	}

	c.Header("Content-Disposition", `attachment; filename="dispute_runs.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func mimeFromName(filename string) string {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	case strings.HasSuffix(name, ".jpg"), strings.HasSuffix(name, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(name, ".gif"):
		return "image/gif"
	case strings.HasSuffix(name, ".bmp"):
		return "image/bmp"
	case strings.HasSuffix(name, ".tif"), strings.HasSuffix(name, ".tiff"):
		return "image/tiff"
	case strings.HasSuffix(name, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

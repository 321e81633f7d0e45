// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"evalhub/internal/domain/attachment"
	"evalhub/internal/services"
	"evalhub/internal/transport/httpdto"
	evalhub_errors "evalhub/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AttachmentHandler handles the attachment HTTP endpoints.
type AttachmentHandler struct {
	service *services.AttachmentService

	// maxBodyBytes caps simple-upload and chunk request bodies before they
	// are read into memory. The service applies its own limits after.
	maxBodyBytes int64
}

func NewAttachmentHandler(service *services.AttachmentService, maxBodyMB int) *AttachmentHandler {
	if maxBodyMB < 1 {
		maxBodyMB = 5
	}
	return &AttachmentHandler{
		service: service,
		// multipart framing adds overhead on top of the payload itself
		maxBodyBytes: int64(maxBodyMB)*1024*1024 + 64*1024,
	}
}

// SimpleUpload handles POST /v1/attachments/upload (multipart).
func (h *AttachmentHandler) SimpleUpload(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			writeError(c, fmt.Errorf("%w: request body too large", evalhub_errors.ErrTooLarge))
			return
		}
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("multipart field 'file' is required", "INVALID_REQUEST"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("unreadable upload", "INVALID_REQUEST"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			writeError(c, fmt.Errorf("%w: request body too large", evalhub_errors.ErrTooLarge))
			return
		}
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("unreadable upload", "INVALID_REQUEST"))
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	a, err := h.service.SimpleUpload(c.Request.Context(), services.SimpleUploadInput{
		UploaderID:  userID,
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(toAttachmentDTO(a)))
}

// InitUpload handles POST /v1/attachments/upload/init.
func (h *AttachmentHandler) InitUpload(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	var req httpdto.InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	a, err := h.service.InitChunkedUpload(c.Request.Context(), services.InitUploadInput{
		UploaderID:  userID,
		Filename:    req.FileName,
		ContentType: req.ContentType,
		FileSize:    req.FileSize,
		TotalChunks: req.TotalChunks,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(toAttachmentDTO(a)))
}

// UploadChunk handles PATCH /v1/attachments/upload/:id/chunk/:index.
// The chunk travels as the raw request body.
func (h *AttachmentHandler) UploadChunk(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	attachmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid attachment id", "INVALID_REQUEST"))
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid chunk index", "INVALID_REQUEST"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if isBodyTooLarge(err) {
			writeError(c, fmt.Errorf("%w: chunk body too large", evalhub_errors.ErrTooLarge))
			return
		}
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("unreadable chunk", "INVALID_REQUEST"))
		return
	}

	progress, err := h.service.UploadChunk(c.Request.Context(), services.ChunkInput{
		UploaderID:   userID,
		AttachmentID: attachmentID,
		Index:        index,
		Data:         data,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ChunkProgressResponse{
		AttachmentID:   attachmentID.String(),
		ReceivedChunks: progress.Received,
		TotalChunks:    progress.Total,
	}))
}

// CompleteUpload handles POST /v1/attachments/upload/:id/complete. Returns
// 202: reassembly happens on the worker pool.
func (h *AttachmentHandler) CompleteUpload(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	attachmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid attachment id", "INVALID_REQUEST"))
		return
	}

	a, err := h.service.CompleteChunkedUpload(c.Request.Context(), userID, attachmentID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(toAttachmentDTO(a)))
}

// Download handles GET /v1/attachments/:id/download.
func (h *AttachmentHandler) Download(c *gin.Context) {
	attachmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid attachment id", "INVALID_REQUEST"))
		return
	}

	res, err := h.service.Download(c.Request.Context(), attachmentID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, res.ContentType, res.Data)
}

// GetByID handles GET /v1/attachments/:id.
func (h *AttachmentHandler) GetByID(c *gin.Context) {
	attachmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid attachment id", "INVALID_REQUEST"))
		return
	}

	a, err := h.service.Info(c.Request.Context(), attachmentID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(toAttachmentDTO(a)))
}

// List handles GET /v1/attachments and returns the caller's own uploads.
func (h *AttachmentHandler) List(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	items, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	dtos := make([]httpdto.AttachmentDTO, 0, len(items))
	for _, a := range items {
		dtos = append(dtos, toAttachmentDTO(a))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListAttachmentsResponse{Attachments: dtos}))
}

// Delete handles DELETE /v1/attachments/:id.
func (h *AttachmentHandler) Delete(c *gin.Context) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	attachmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid attachment id", "INVALID_REQUEST"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, attachmentID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// writeError maps the error chain to a status, writes the envelope, and
// attaches the error for the trailing log middleware.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := evalhub_errors.HTTPStatus(err)
	c.JSON(status, httpdto.NewErrorResponse(err.Error(), httpdto.ErrorCode(status)))
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func toAttachmentDTO(a attachment.Attachment) httpdto.AttachmentDTO {
	dto := httpdto.AttachmentDTO{
		ID:             a.ID.String(),
		FileName:       a.Filename,
		FileSize:       a.FileSize,
		ContentType:    a.ContentType,
		UploaderID:     a.UploaderID.String(),
		Status:         string(a.Status),
		ChecksumSHA256: a.ChecksumSHA256,
		TotalChunks:    a.TotalChunks,
		ReceivedChunks: a.ReceivedChunks,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
	if a.CommentID.Valid {
		dto.CommentID = a.CommentID.UUID.String()
	}
	if a.UploadSession.Valid {
		dto.UploadSession = a.UploadSession.UUID.String()
	}
	if !a.UpdatedAt.IsZero() {
		dto.UpdatedAt = a.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

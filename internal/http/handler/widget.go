package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ondrasimku/filepicker-go/internal/domain"
	"github.com/ondrasimku/filepicker-go/internal/filepicker"
)

type WidgetHandler struct {
	registry *filepicker.Registry
	spoolDir string
	maxSize  int64
	logger   *slog.Logger
}

func NewWidgetHandler(registry *filepicker.Registry, spoolDir string, maxSize int64, logger *slog.Logger) *WidgetHandler {
	return &WidgetHandler{
		registry: registry,
		spoolDir: spoolDir,
		maxSize:  maxSize,
		logger:   logger,
	}
}

type AddFilesResponse struct {
	FileIDs  []string             `json:"fileIds"`
	Snapshot *filepicker.Snapshot `json:"snapshot,omitempty"`
}

type SelectedFilesRequest struct {
	SelectedFiles []domain.SelectedFile `json:"selectedFiles"`
}

func (h *WidgetHandler) Create(c *gin.Context) {
	cfg := filepicker.DefaultConfig("")
	if err := c.ShouldBindJSON(&cfg); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid widget config",
			Details: err.Error(),
		})
		return
	}

	ctrl, err := h.registry.Create(cfg)
	if err != nil {
		h.logger.Warn("Failed to create widget", "widgetId", cfg.WidgetID, "error", err)
		abortWithError(c, "Failed to create widget", err)
		return
	}

	h.logger.Info("Widget created", "widgetId", ctrl.ID())
	c.JSON(http.StatusCreated, ctrl.Snapshot())
}

func (h *WidgetHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"widgets": h.registry.List()})
}

func (h *WidgetHandler) Get(c *gin.Context) {
	ctrl, ok := h.widget(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// UpdateConfig merges the request body over the widget's current config.
func (h *WidgetHandler) UpdateConfig(c *gin.Context) {
	ctrl, ok := h.widget(c)
	if !ok {
		return
	}

	cfg := ctrl.Snapshot().Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid widget config",
			Details: err.Error(),
		})
		return
	}

	if err := ctrl.Update(cfg); err != nil {
		abortWithError(c, "Failed to update widget", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *WidgetHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Delete(id); err != nil {
		abortWithError(c, "Failed to delete widget", err)
		return
	}

	if err := os.RemoveAll(filepath.Join(h.spoolDir, id)); err != nil {
		h.logger.Warn("Failed to remove spooled files", "widgetId", id, "error", err)
	}

	h.logger.Info("Widget deleted", "widgetId", id)
	c.Status(http.StatusNoContent)
}

// AddFiles hands the multipart "files" to the widget's uploader. With
// ?wait=true the response carries the snapshot after materialization.
func (h *WidgetHandler) AddFiles(c *gin.Context) {
	ctrl, ok := h.widget(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "No files provided",
		})
		return
	}

	headers := form.File["files"]
	raws := make([]domain.RawFile, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > h.maxSize {
			h.discard(ctrl.ID(), raws)
			h.logger.Warn("File too large", "size", fh.Size, "max", h.maxSize)
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "File too large",
				Details: fh.Filename,
			})
			return
		}

		raw, err := h.spool(ctrl.ID(), fh)
		if err != nil {
			h.discard(ctrl.ID(), raws)
			h.logger.Error("Failed to spool uploaded file", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "Failed to process file",
			})
			return
		}
		raws = append(raws, raw)
	}

	if err := ctrl.Uploader().AddFiles(raws); err != nil {
		h.discard(ctrl.ID(), raws)
		h.logger.Warn("Files rejected", "widgetId", ctrl.ID(), "error", err)
		abortWithError(c, "Files rejected", err)
		return
	}

	resp := AddFilesResponse{FileIDs: make([]string, len(raws))}
	for i, raw := range raws {
		resp.FileIDs[i] = raw.ID
	}

	if c.Query("wait") == "true" {
		ctrl.Wait()
		snap := ctrl.Snapshot()
		resp.Snapshot = &snap
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// discard removes spool files the uploader never took ownership of.
func (h *WidgetHandler) discard(widgetID string, raws []domain.RawFile) {
	if err := domain.ReleaseSources(raws); err != nil {
		h.logger.Warn("Failed to remove spooled files", "widgetId", widgetID, "error", err)
	}
}

func (h *WidgetHandler) spool(widgetID string, fh *multipart.FileHeader) (domain.RawFile, error) {
	src, err := fh.Open()
	if err != nil {
		return domain.RawFile{}, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	dir := filepath.Join(h.spoolDir, widgetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.RawFile{}, fmt.Errorf("failed to create spool directory: %w", err)
	}

	id := uuid.New().String()
	path := filepath.Join(dir, id)
	dst, err := os.Create(path)
	if err != nil {
		return domain.RawFile{}, fmt.Errorf("failed to create spool file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, io.LimitReader(src, h.maxSize+1))
	if err != nil {
		os.Remove(path)
		return domain.RawFile{}, fmt.Errorf("failed to write spool file: %w", err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}

	return domain.RawFile{
		ID:     id,
		Name:   fh.Filename,
		Type:   contentType,
		Size:   size,
		Source: domain.SpoolSource(path),
	}, nil
}

func (h *WidgetHandler) RemoveFile(c *gin.Context) {
	ctrl, ok := h.widget(c)
	if !ok {
		return
	}

	if err := ctrl.Uploader().RemoveFile(c.Param("fileId")); err != nil {
		abortWithError(c, "Failed to remove file", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *WidgetHandler) Cancel(c *gin.Context) {
	ctrl, ok := h.widget(c)
	if !ok {
		return
	}

	ctrl.Uploader().CancelAll()
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Upload triggers the uploader's upload step, which dispatches the
// onFilesSelected action.
func (h *WidgetHandler) Upload(c *gin.Context) {
	ctrl, ok := h.widget(c)
	if !ok {
		return
	}

	if err := ctrl.Uploader().Upload(); err != nil {
		abortWithError(c, "Failed to upload", err)
		return
	}
	c.JSON(http.StatusAccepted, ctrl.Snapshot())
}

// SetSelectedFiles replaces the widget's selected files, as a host does
// when it resets meta properties.
func (h *WidgetHandler) SetSelectedFiles(c *gin.Context) {
	ctrl, ok := h.widget(c)
	if !ok {
		return
	}

	var req SelectedFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
		})
		return
	}

	if err := ctrl.SetSelectedFiles(req.SelectedFiles); err != nil {
		abortWithError(c, "Failed to set selected files", err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *WidgetHandler) widget(c *gin.Context) (*filepicker.Controller, bool) {
	ctrl, err := h.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, "Widget not found", err)
		return nil, false
	}
	return ctrl, true
}

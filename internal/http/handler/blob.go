package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ondrasimku/filepicker-go/internal/blob"
)

type BlobHandler struct {
	store  *blob.Store
	logger *slog.Logger
}

func NewBlobHandler(store *blob.Store, logger *slog.Logger) *BlobHandler {
	return &BlobHandler{store: store, logger: logger}
}

// GetBlob streams the payload behind a live transient reference.
func (h *BlobHandler) GetBlob(c *gin.Context) {
	blobID := c.Param("blobId")
	if blobID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Blob ID is required",
		})
		return
	}

	ctx := c.Request.Context()
	file, info, err := h.store.Open(ctx, blobID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "Blob not found",
			})
			return
		}
		h.logger.Error("Failed to open blob", "blobId", blobID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to open blob",
		})
		return
	}
	defer file.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("Content-Length", fmt.Sprintf("%d", info.Size))
	c.DataFromReader(http.StatusOK, info.Size, contentType, file, nil)
}

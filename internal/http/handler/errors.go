package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/ondrasimku/filepicker-go/internal/filepicker"
	"github.com/ondrasimku/filepicker-go/internal/uploader"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		rerr *uploader.RestrictionError
		verr validator.ValidationErrors
	)
	switch {
	case errors.Is(err, filepicker.ErrWidgetNotFound), errors.Is(err, uploader.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, filepicker.ErrWidgetExists):
		return http.StatusConflict
	case errors.Is(err, filepicker.ErrClosed), errors.Is(err, uploader.ErrClosed):
		return http.StatusGone
	case errors.Is(err, uploader.ErrNoFiles):
		return http.StatusConflict
	case errors.As(err, &rerr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &verr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message}
	if status != http.StatusInternalServerError {
		resp.Details = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ondrasimku/filepicker-go/internal/filepicker"
)

// Schema serves the widget's property pane, derived and meta properties.
func Schema(c *gin.Context) {
	c.JSON(http.StatusOK, filepicker.WidgetSchema())
}

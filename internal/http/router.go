package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/ondrasimku/filepicker-go/internal/auth"
	"github.com/ondrasimku/filepicker-go/internal/blob"
	"github.com/ondrasimku/filepicker-go/internal/config"
	"github.com/ondrasimku/filepicker-go/internal/filepicker"
	"github.com/ondrasimku/filepicker-go/internal/http/handler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(registry *filepicker.Registry, blobs *blob.Store, cfg *config.Config, gatherer prometheus.Gatherer, logger *slog.Logger) *gin.Engine {
	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	healthHandler := handler.NewHealthHandler()
	blobHandler := handler.NewBlobHandler(blobs, logger)
	widgetHandler := handler.NewWidgetHandler(registry, cfg.SpoolDir, cfg.MaxUploadSize, logger)
	eventsHandler := handler.NewEventsHandler(registry, logger)

	router.GET("/healthz", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/widgets/schema", handler.Schema)

	// Reference ids are unguessable; the reference itself is the capability.
	router.GET("/blobs/:blobId", blobHandler.GetBlob)

	read := []gin.HandlerFunc{}
	write := []gin.HandlerFunc{}
	widgetRoutes := router.Group("/widgets")
	if cfg.Auth.Enabled() {
		jwksClient := auth.NewJWKSClient(cfg.Auth.JWKSUrl, cfg.Auth.JWKSCacheTTL)
		verifier := auth.NewVerifier(jwksClient, auth.Config{
			JWKSUrl:      cfg.Auth.JWKSUrl,
			Issuer:       cfg.Auth.Issuer,
			Audience:     cfg.Auth.Audience,
			JWKSCacheTTL: cfg.Auth.JWKSCacheTTL,
		})
		widgetRoutes.Use(auth.Authenticate(verifier))
		read = append(read, auth.RequirePermissions(auth.PermissionWidgetsRead))
		write = append(write, auth.RequirePermissions(auth.PermissionWidgetsWrite))
	} else {
		logger.Warn("Widget routes are not authenticated; set AUTH_JWKS_URL to enable")
	}

	{
		widgetRoutes.POST("", append(write, widgetHandler.Create)...)
		widgetRoutes.GET("", append(read, widgetHandler.List)...)
		widgetRoutes.GET("/:id", append(read, widgetHandler.Get)...)
		widgetRoutes.PUT("/:id/config", append(write, widgetHandler.UpdateConfig)...)
		widgetRoutes.DELETE("/:id", append(write, widgetHandler.Delete)...)
		widgetRoutes.POST("/:id/files", append(write, widgetHandler.AddFiles)...)
		widgetRoutes.DELETE("/:id/files/:fileId", append(write, widgetHandler.RemoveFile)...)
		widgetRoutes.POST("/:id/cancel", append(write, widgetHandler.Cancel)...)
		widgetRoutes.POST("/:id/upload", append(write, widgetHandler.Upload)...)
		widgetRoutes.PUT("/:id/selected-files", append(write, widgetHandler.SetSelectedFiles)...)
		widgetRoutes.GET("/:id/events", append(read, eventsHandler.Stream)...)
	}

	return router
}

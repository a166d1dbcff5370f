package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ondrasimku/filepicker-go/internal/action"
	"github.com/ondrasimku/filepicker-go/internal/blob"
	"github.com/ondrasimku/filepicker-go/internal/config"
	"github.com/ondrasimku/filepicker-go/internal/filepicker"
	httphandler "github.com/ondrasimku/filepicker-go/internal/http"
	"github.com/ondrasimku/filepicker-go/internal/log"
	"github.com/ondrasimku/filepicker-go/internal/materialize"
	"github.com/ondrasimku/filepicker-go/internal/metrics"
	"github.com/ondrasimku/filepicker-go/internal/storage"
	"github.com/ondrasimku/filepicker-go/internal/storage/local"
	"github.com/ondrasimku/filepicker-go/internal/storage/s3store"
	"github.com/ondrasimku/filepicker-go/internal/uploader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the widget HTTP service",
		Long: `Run the widget HTTP service. Configuration comes from the environment;
see FILEPICKER_* and AUTH_* variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	logger := log.NewLogger(cfg.Log.Level, cfg.Log.Format)

	backend, err := newStorage(cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.WithNamespace(cfg.Metrics.Namespace), metrics.WithRegistry(registry))

	blobs := blob.NewStore(backend, cfg.PublicBaseURL, m, logger)

	var actions action.Executor = action.Noop{}
	if cfg.Action.WebhookURL != "" {
		actions = action.NewWebhook(cfg.Action.WebhookURL, cfg.Action.Timeout, m, logger)
	}

	widgets := filepicker.NewRegistry(uploader.Factory(m), filepicker.Deps{
		Materializer: materialize.New(blobs, m),
		Revoker:      blobs,
		Actions:      actions,
		Metrics:      m,
		Logger:       logger,
	})

	if cfg.WidgetsFile != "" {
		if err := loadWidgets(widgets, cfg.WidgetsFile, logger); err != nil {
			return err
		}
	}

	router := httphandler.NewRouter(widgets, blobs, cfg, registry, logger)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting filepicker service", "addr", cfg.HTTPAddr, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		logger.Error("Server failed to start", "error", err)
		return err
	}

	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return err
	}

	if err := widgets.CloseAll(); err != nil {
		logger.Warn("Failed to close widgets cleanly", "error", err)
	}

	logger.Info("Server exited")
	return nil
}

func newStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3cfg := cfg.Storage.S3
		client := s3store.NewClient(s3store.Options{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		return s3store.New(client, s3cfg.Bucket, s3cfg.Prefix), nil
	default:
		return local.NewLocalStorage(cfg.Storage.Dir)
	}
}

func loadWidgets(registry *filepicker.Registry, path string, logger *slog.Logger) error {
	configs, err := config.LoadWidgets(path)
	if err != nil {
		logger.Error("Failed to load widgets", "path", path, "error", err)
		return err
	}

	for _, wc := range configs {
		if _, err := registry.Create(wc); err != nil {
			return fmt.Errorf("failed to create widget %s: %w", wc.WidgetID, err)
		}
	}
	logger.Info("Widgets loaded", "count", len(configs), "path", path)
	return nil
}

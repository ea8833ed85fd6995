package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"doc-queue/internal/app"
	"doc-queue/internal/config"
	"doc-queue/internal/handler"
	"doc-queue/internal/logging"
	"doc-queue/internal/metrics"
	"doc-queue/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	if err := run(cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	metricsInstance := metrics.NewMetrics()
	rateLimiter := service.NewRateLimiter(cfg.Limits.MaxPending, cfg.Limits.UploadsPerMinute)

	documentService := service.NewDocumentService(
		stores.Documents,
		stores.Blobs,
		stores.Queue,
		cfg.Queue.EnqueueOptions(),
		rateLimiter,
		metricsInstance,
		service.UploadLimits{
			MaxSize:      cfg.Storage.MaxUploadSizeBytes(),
			AllowedTypes: cfg.Storage.AllowedTypes,
		},
		logger,
	)
	adminService := service.NewAdminService(stores.Queue, metricsInstance, logger)

	router := handler.NewRouter(
		handler.NewDocumentHandler(documentService, cfg.Storage.MaxUploadSizeBytes(), logger),
		handler.NewAdminHandler(adminService, metricsInstance, stores.Jobs, logger),
		logger,
	)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

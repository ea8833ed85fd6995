// Package app builds the stores and queue shared by the API and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"doc-queue/internal/config"
	"doc-queue/internal/extract"
	"doc-queue/internal/queue"
	"doc-queue/internal/repository"
	"doc-queue/internal/storage"
)

// simulated OCR round trip
const ocrLatency = 500 * time.Millisecond

// Stores holds the opened persistence layers. Close releases all of them.
type Stores struct {
	Jobs      *repository.SQLiteRepository
	Documents repository.DocumentRepository
	Blobs     storage.BlobStore
	Queue     *queue.Queue

	closers []func() error
}

// Open connects every store named by cfg
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	s := &Stores{}

	jobs, err := repository.NewSQLiteRepository(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	s.Jobs = jobs
	s.closers = append(s.closers, jobs.Close)

	switch cfg.Database.Documents {
	case "postgres":
		pg, err := repository.NewPostgresDocumentRepository(ctx, repository.PostgresConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MaxConnLifetime: 30 * time.Minute,
			DialTimeout:     10 * time.Second,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Documents = pg
		s.closers = append(s.closers, pg.Close)
	default:
		s.Documents = jobs
	}

	switch cfg.Storage.Backend {
	case "gcs":
		gcs, err := storage.NewGCS(ctx, cfg.Storage.Bucket, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Blobs = gcs
		s.closers = append(s.closers, gcs.Close)
	default:
		fs, err := storage.NewFilesystem(cfg.Storage.BasePath, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Blobs = fs
	}

	s.Queue = queue.New(jobs, queue.Config{
		LeaseDuration: cfg.Queue.LeaseDuration.Duration,
		Defaults:      cfg.Queue.EnqueueOptions(),
	}, logger)

	logger.Info("stores opened",
		"database", cfg.Database.Path,
		"documents", cfg.Database.Documents,
		"storage", cfg.Storage.Backend,
	)
	return s, nil
}

// Close closes the stores in reverse order of opening
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// NewExtractor builds the OCR and metadata chain. Vertex AI is tried first when a
// project is configured; pattern matching is always the fallback. The returned
// func releases the Vertex client.
func NewExtractor(ctx context.Context, cfg config.ExtractConfig, logger *slog.Logger) (*extract.Service, func() error, error) {
	recognizer := extract.NewSimulatedRecognizer(cfg.EnableTestFailures, ocrLatency, logger)

	if cfg.VertexProject == "" {
		logger.Info("vertex ai not configured, using pattern extraction")
		return extract.NewService(recognizer, logger), func() error { return nil }, nil
	}

	vertex, err := extract.NewVertexExtractor(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create vertex extractor: %w", err)
	}

	logger.Info("vertex ai extraction enabled", "project", cfg.VertexProject, "location", cfg.VertexLocation, "model", cfg.Model)
	return extract.NewService(recognizer, logger, vertex), vertex.Close, nil
}

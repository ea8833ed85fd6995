package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"doc-queue/internal/metrics"
	"doc-queue/internal/models"
	"doc-queue/internal/repository"
	"doc-queue/internal/storage"
)

// Producer is the part of the job queue the upload path uses
type Producer interface {
	Enqueue(ctx context.Context, payload models.ProcessingPayload, opts models.EnqueueOptions) (*models.Job, error)
	Backlog(ctx context.Context, accountID string) (int, error)
}

// UploadLimits bounds what an upload may contain
type UploadLimits struct {
	MaxSize      int64
	AllowedTypes []string
}

func (l UploadLimits) allowed(mimeType string) bool {
	for _, t := range l.AllowedTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}

// DocumentService handles document uploads and CRUD
type DocumentService struct {
	docs        repository.DocumentRepository
	blobs       storage.BlobStore
	producer    Producer
	enqueueOpts models.EnqueueOptions
	rateLimiter *RateLimiter
	metrics     *metrics.Metrics
	limits      UploadLimits
	logger      *slog.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(
	docs repository.DocumentRepository,
	blobs storage.BlobStore,
	producer Producer,
	enqueueOpts models.EnqueueOptions,
	rateLimiter *RateLimiter,
	metrics *metrics.Metrics,
	limits UploadLimits,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		docs:        docs,
		blobs:       blobs,
		producer:    producer,
		enqueueOpts: enqueueOpts,
		rateLimiter: rateLimiter,
		metrics:     metrics,
		limits:      limits,
		logger:      logger.With("component", "documents"),
	}
}

// Upload stores the file, records the document as uploaded and enqueues its processing job
func (s *DocumentService) Upload(ctx context.Context, account models.Account, req *models.UploadRequest) (*models.UploadResult, error) {
	backlog, err := s.producer.Backlog(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count queued documents: %w", err)
	}
	if err := s.rateLimiter.Admit(ctx, account.ID, backlog); err != nil {
		return nil, err
	}

	if !s.limits.allowed(req.MimeType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFileType, req.MimeType)
	}
	if len(req.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if s.limits.MaxSize > 0 && int64(len(req.Data)) > s.limits.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(req.Data), s.limits.MaxSize)
	}

	filename := storage.UniqueFilename(req.OriginalName)
	logger := s.logger.With("account_id", account.ID, "filename", filename)

	storageKey, err := s.blobs.Put(ctx, account.ID, filename, req.Data, req.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	originalName := req.OriginalName
	if originalName == "" {
		originalName = "unknown"
	}

	documentID, err := s.docs.CreateDocument(ctx, &models.CreateDocumentRequest{
		Filename:     filename,
		OriginalName: originalName,
		FileSize:     int64(len(req.Data)),
		MimeType:     req.MimeType,
		StorageKey:   storageKey,
	})
	if err != nil {
		s.discardBlob(ctx, storageKey)
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	job, err := s.producer.Enqueue(ctx, models.ProcessingPayload{
		AccountID:  account.ID,
		DocumentID: documentID,
		StorageKey: storageKey,
		Filename:   filename,
	}, s.enqueueOpts)
	if err != nil {
		if delErr := s.docs.DeleteDocument(ctx, documentID); delErr != nil {
			logger.Error("failed to remove document after enqueue failure", "document_id", documentID, "error", delErr)
		}
		s.discardBlob(ctx, storageKey)
		return nil, fmt.Errorf("failed to enqueue document: %w", err)
	}

	s.metrics.IncrementUploadedDocuments()
	logger.Info("document uploaded", "document_id", documentID, "job_id", job.ID, "size", len(req.Data))

	return &models.UploadResult{DocumentID: documentID, JobID: job.ID}, nil
}

func (s *DocumentService) discardBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("failed to remove orphaned blob", "storage_key", key, "error", err)
	}
}

// GetDocument retrieves a document by ID
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// UpdateDocument applies an operator update. Status changes must follow the state machine.
func (s *DocumentService) UpdateDocument(ctx context.Context, id string, req *models.UpdateDocumentRequest) (*models.Document, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	update := models.DocumentUpdate{ErrorMessage: req.ErrorMessage}
	if req.Status != nil && *req.Status != doc.Status {
		if !req.Status.Valid() || !doc.Status.CanTransitionTo(*req.Status) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatus, doc.Status, *req.Status)
		}
		update.Status = req.Status
	}

	if err := s.docs.UpdateDocument(ctx, id, update); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	s.logger.Info("document updated", "document_id", id)
	return s.GetDocument(ctx, id)
}

// DeleteDocument deletes the document record and then its blob. A missing blob is not an error.
func (s *DocumentService) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	if err := s.docs.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil {
		s.logger.Warn("failed to delete stored file", "document_id", id, "storage_key", doc.StorageKey, "error", err)
	}

	s.logger.Info("document deleted", "document_id", id)
	return nil
}

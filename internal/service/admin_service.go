package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"doc-queue/internal/metrics"
	"doc-queue/internal/models"
	"doc-queue/internal/repository"
)

// AdminQueue is the part of the job queue the operator surface uses
type AdminQueue interface {
	Stats(ctx context.Context) (*models.QueueStats, error)
	DeadLetters(ctx context.Context) ([]*models.DeadLetterRecord, error)
	GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterRecord, error)
	Replay(ctx context.Context, recordID string) (*models.Job, error)
}

// QueueStatus is the queue depth plus jobs in flight in this process
type QueueStatus struct {
	models.QueueStats
	InFlight int64 `json:"in_flight"`
}

// AdminService handles operator queries and dead letter replay
type AdminService struct {
	queue   AdminQueue
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(queue AdminQueue, metrics *metrics.Metrics, logger *slog.Logger) *AdminService {
	return &AdminService{
		queue:   queue,
		metrics: metrics,
		logger:  logger.With("component", "admin"),
	}
}

// QueueStatus returns the job count per state
func (s *AdminService) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return &QueueStatus{QueueStats: *stats, InFlight: s.metrics.InFlight()}, nil
}

// ListDeadLetters retrieves all dead letter records
func (s *AdminService) ListDeadLetters(ctx context.Context) ([]*models.DeadLetterRecord, error) {
	records, err := s.queue.DeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return records, nil
}

// GetDeadLetter retrieves a dead letter record by ID
func (s *AdminService) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterRecord, error) {
	record, err := s.queue.GetDeadLetter(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return record, nil
}

// ReplayDeadLetter enqueues a new job for the record's document
func (s *AdminService) ReplayDeadLetter(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.queue.Replay(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("failed to replay dead letter: %w", err)
	}

	s.metrics.IncrementReplayedJobs()
	s.logger.Info("dead letter replayed", "record_id", id, "job_id", job.ID, "document_id", job.Payload.DocumentID)
	return job, nil
}

// ExportDeadLetters renders every dead letter record as an XLSX workbook
func (s *AdminService) ExportDeadLetters(ctx context.Context) ([]byte, error) {
	records, err := s.ListDeadLetters(ctx)
	if err != nil {
		return nil, err
	}

	data, err := ExportDeadLettersXLSX(records)
	if err != nil {
		return nil, fmt.Errorf("failed to export dead letters: %w", err)
	}

	s.logger.Info("dead letters exported", "rows", len(records))
	return data, nil
}

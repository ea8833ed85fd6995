package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"doc-queue/internal/extract"
	"doc-queue/internal/metrics"
	"doc-queue/internal/models"
	"doc-queue/internal/queue"
	"doc-queue/internal/repository"
	"doc-queue/internal/storage"

	"golang.org/x/sync/errgroup"
)

// Consumer is the part of the job queue the worker pool uses
type Consumer interface {
	Lease(ctx context.Context) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job) error
	Fail(ctx context.Context, job *models.Job, cause error) (bool, error)
}

// WorkerPoolConfig holds worker pool settings
type WorkerPoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	StageTimeout time.Duration
}

// WorkerPool leases jobs and drives each document through OCR, extraction and validation
type WorkerPool struct {
	queue     Consumer
	docs      repository.DocumentRepository
	blobs     storage.BlobStore
	extractor extract.Extractor
	metrics   *metrics.Metrics
	cfg       WorkerPoolConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(
	queue Consumer,
	docs repository.DocumentRepository,
	blobs storage.BlobStore,
	extractor extract.Extractor,
	metrics *metrics.Metrics,
	cfg WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}

	return &WorkerPool{
		queue:     queue,
		docs:      docs,
		blobs:     blobs,
		extractor: extractor,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger.With("component", "worker"),
		now:       time.Now,
	}
}

// Run processes jobs until ctx is cancelled, then stops leasing and waits for
// in-flight jobs. Jobs already leased finish on a context detached from ctx.
func (p *WorkerPool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", "concurrency", p.cfg.Concurrency)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for ctx.Err() == nil {
		// Blocks while every slot is busy
		g.Go(func() error {
			p.leaseAndProcess(ctx)
			return nil
		})
	}

	p.logger.Info("worker pool stopping, waiting for in-flight jobs")
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *WorkerPool) leaseAndProcess(ctx context.Context) {
	job, err := p.queue.Lease(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("error leasing job", "error", err)
		}
		p.sleep(ctx)
		return
	}

	if job == nil {
		p.sleep(ctx)
		return
	}

	p.ProcessJob(context.WithoutCancel(ctx), job)
}

func (p *WorkerPool) sleep(ctx context.Context) {
	select {
	case <-time.After(p.cfg.PollInterval):
	case <-ctx.Done():
	}
}

// ProcessJob runs one leased job to completion or failure
func (p *WorkerPool) ProcessJob(ctx context.Context, job *models.Job) {
	p.metrics.JobStarted()
	defer p.metrics.JobFinished()

	start := p.now()
	logger := p.logger.With(
		"job_id", job.ID,
		"document_id", job.Payload.DocumentID,
		"attempt", job.Attempt(),
		"max_attempts", job.MaxAttempts,
	)
	logger.Info("job leased", "filename", job.Payload.Filename)

	started, err := p.processDocument(ctx, job, start, logger)
	if err != nil {
		p.handleJobFailure(ctx, job, err, started, start, logger)
		return
	}

	if err := p.queue.Complete(ctx, job); err != nil {
		logger.Error("error completing job", "error", err)
		return
	}

	logger.Info("job completed", "duration_ms", p.now().Sub(start).Milliseconds())
}

// processDocument reports whether the document reached PROCESSING before any error
func (p *WorkerPool) processDocument(ctx context.Context, job *models.Job, start time.Time, logger *slog.Logger) (bool, error) {
	var doc *models.Document
	err := p.stage(ctx, "load document", func(ctx context.Context) error {
		var err error
		doc, err = p.docs.GetDocument(ctx, job.Payload.DocumentID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, queue.Permanent(err)
		}
		return false, err
	}

	switch {
	case doc.Status.Terminal():
		logger.Info("document already processed, skipping", "status", doc.Status)
		return false, nil
	case doc.Status == models.DocumentValidated:
		// Redelivered after the results were saved; only the final step is missing
		return true, p.complete(ctx, doc.ID, logger)
	case doc.Status != models.DocumentProcessing:
		if err := p.setStatus(ctx, doc, models.DocumentProcessing); err != nil {
			return false, err
		}
	}

	var data []byte
	err = p.stage(ctx, "download", func(ctx context.Context) error {
		var err error
		data, err = p.blobs.Get(ctx, job.Payload.StorageKey)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			return true, queue.Permanent(err)
		}
		return true, err
	}

	var ocr *models.OCRResult
	err = p.stage(ctx, "recognize", func(ctx context.Context) error {
		var err error
		ocr, err = p.extractor.Recognize(ctx, data, job.Payload.Filename)
		return err
	})
	if err != nil {
		return true, err
	}

	extractCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	metadata := p.extractor.Extract(extractCtx, ocr)
	cancel()

	valid := extract.IsValid(metadata)
	status := models.DocumentProcessed
	if valid {
		status = models.DocumentValidated
	}

	elapsed := p.now().Sub(start).Milliseconds()
	err = p.stage(ctx, "save results", func(ctx context.Context) error {
		return p.docs.UpdateDocument(ctx, doc.ID, models.DocumentUpdate{
			Status:            &status,
			OCRResult:         ocr,
			ExtractedMetadata: metadata,
			ProcessingTimeMs:  &elapsed,
		})
	})
	if err != nil {
		return true, err
	}

	logger.Info("document extracted",
		"ocr_confidence", ocr.Confidence,
		"extraction_confidence", metadata.ExtractionConfidence,
		"valid", valid,
	)

	if !valid {
		processedAt := p.now()
		err := p.stage(ctx, "save results", func(ctx context.Context) error {
			return p.docs.UpdateDocument(ctx, doc.ID, models.DocumentUpdate{ProcessedAt: &processedAt})
		})
		if err != nil {
			// PROCESSED is terminal and the results are saved, so this is not a failed attempt
			logger.Warn("error recording processed time", "error", err)
		}
		p.metrics.IncrementProcessedDocuments()
		logger.Info("document processed below confidence threshold", "status", status)
		return true, nil
	}

	return true, p.complete(ctx, doc.ID, logger)
}

func (p *WorkerPool) complete(ctx context.Context, documentID string, logger *slog.Logger) error {
	completed := models.DocumentCompleted
	processedAt := p.now()
	err := p.stage(ctx, "complete document", func(ctx context.Context) error {
		return p.docs.UpdateDocument(ctx, documentID, models.DocumentUpdate{Status: &completed, ProcessedAt: &processedAt})
	})
	if err != nil {
		return err
	}

	p.metrics.IncrementCompletedDocuments()
	logger.Info("document completed")
	return nil
}

func (p *WorkerPool) setStatus(ctx context.Context, doc *models.Document, status models.DocumentStatus) error {
	return p.stage(ctx, "update status", func(ctx context.Context) error {
		return p.docs.UpdateDocument(ctx, doc.ID, models.DocumentUpdate{Status: &status})
	})
}

func (p *WorkerPool) handleJobFailure(ctx context.Context, job *models.Job, cause error, started bool, start time.Time, logger *slog.Logger) {
	p.metrics.IncrementFailedAttempts()

	attempt := job.Attempt()
	message := fmt.Sprintf("Attempt %d: %s", attempt, cause.Error())
	elapsed := p.now().Sub(start).Milliseconds()
	update := models.DocumentUpdate{
		ErrorMessage:     &message,
		ProcessingTimeMs: &elapsed,
		FailedAttempt:    &attempt,
	}
	if started {
		failed := models.DocumentFailed
		update.Status = &failed
	}

	err := p.stage(ctx, "record failure", func(ctx context.Context) error {
		return p.docs.UpdateDocument(ctx, job.Payload.DocumentID, update)
	})
	if err != nil {
		logger.Warn("error recording failure on document", "error", err)
	}

	retrying, err := p.queue.Fail(ctx, job, cause)
	if err != nil {
		logger.Error("error reporting failure to queue", "error", err)
		return
	}

	if retrying {
		p.metrics.IncrementRetriedJobs()
	}
	logger.Warn("job failed", "error", cause, "retrying", retrying, "permanent", queue.IsPermanent(cause))
}

// stage runs fn under the per-stage timeout and names the stage in any error
func (p *WorkerPool) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

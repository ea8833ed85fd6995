package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"doc-queue/internal/logging"
	"doc-queue/internal/metrics"
	"doc-queue/internal/models"
	"doc-queue/internal/queue"
	"doc-queue/internal/storage"
)

type pipeline struct {
	docs      *mockDocumentRepository
	blobs     *mockBlobStore
	extractor *scriptedExtractor
	queue     *queue.Queue
	metrics   *metrics.Metrics
	pool      *WorkerPool
	monitor   *DeadLetterMonitor
	alerter   *recordingAlerter
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{
		docs:      newMockDocumentRepository(),
		blobs:     newMockBlobStore(),
		extractor: newScriptedExtractor(),
		queue:     newTestQueue(t),
		metrics:   metrics.NewMetrics(),
		alerter:   &recordingAlerter{},
	}
	p.pool = NewWorkerPool(p.queue, p.docs, p.blobs, p.extractor, p.metrics, WorkerPoolConfig{
		Concurrency:  3,
		PollInterval: 10 * time.Millisecond,
		StageTimeout: 5 * time.Second,
	}, logging.Discard())
	p.monitor = NewDeadLetterMonitor(p.queue, p.docs, p.alerter, p.metrics, 0, logging.Discard())
	return p
}

// upload stores a blob and a document and enqueues its job
func (p *pipeline) upload(t *testing.T, filename string) (*models.Document, *models.Job) {
	t.Helper()
	doc := p.docs.add(t, filename)
	p.blobs.objects[doc.StorageKey] = []byte("%PDF")
	return doc, enqueueDocument(t, p.queue, doc)
}

func (p *pipeline) document(t *testing.T, id string) *models.Document {
	t.Helper()
	doc, err := p.docs.GetDocument(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get document %s: %v", id, err)
	}
	return doc
}

func (p *pipeline) deadLetters(t *testing.T) []*models.DeadLetterRecord {
	t.Helper()
	records, err := p.queue.DeadLetters(context.Background())
	if err != nil {
		t.Fatalf("failed to list dead letters: %v", err)
	}
	return records
}

func TestWorkerPool_ProcessJob_Success(t *testing.T) {
	p := newPipeline(t)
	doc, _ := p.upload(t, "invoice.pdf")

	drain(t, p.pool, p.queue)

	got := p.document(t, doc.ID)
	if got.Status != models.DocumentCompleted {
		t.Fatalf("expected status completed, got %s", got.Status)
	}
	if got.ProcessedAt == nil || got.ProcessingTimeMs == nil {
		t.Error("expected processedAt and processing time to be set")
	}
	if got.OCRResult == nil || got.OCRResult.Confidence != 87 {
		t.Errorf("expected ocr result, got %+v", got.OCRResult)
	}
	if got.ExtractedMetadata == nil || got.ExtractedMetadata.ExtractionConfidence != 100 {
		t.Errorf("expected full extraction, got %+v", got.ExtractedMetadata)
	}
	if got.RetryCount != 0 {
		t.Errorf("expected retry count 0, got %d", got.RetryCount)
	}

	expected := []models.DocumentStatus{models.DocumentUploaded, models.DocumentProcessing, models.DocumentValidated, models.DocumentCompleted}
	if h := p.docs.history[doc.ID]; len(h) != len(expected) {
		t.Errorf("expected history %v, got %v", expected, h)
	}
	p.docs.checkTransitions(t)

	if p.metrics.GetSnapshot()["completed_documents"] != 1 {
		t.Errorf("expected completed_documents 1, got %v", p.metrics.GetSnapshot())
	}
}

func TestWorkerPool_RetryThenSucceed(t *testing.T) {
	p := newPipeline(t)
	doc, _ := p.upload(t, "flaky.pdf")
	p.extractor.failures["flaky.pdf"] = 2

	drain(t, p.pool, p.queue)
	p.monitor.Resync(context.Background())

	got := p.document(t, doc.ID)
	if got.Status != models.DocumentCompleted {
		t.Fatalf("expected status completed, got %s", got.Status)
	}
	if got.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", got.RetryCount)
	}
	if got.ErrorMessage == nil || !strings.HasPrefix(*got.ErrorMessage, "Attempt 2: ") {
		t.Errorf("expected last attempt message, got %v", got.ErrorMessage)
	}
	if records := p.deadLetters(t); len(records) != 0 {
		t.Errorf("expected no dead letters, got %d", len(records))
	}
	if p.extractor.recognizeCalls("flaky.pdf") != 3 {
		t.Errorf("expected 3 attempts, got %d", p.extractor.recognizeCalls("flaky.pdf"))
	}

	snapshot := p.metrics.GetSnapshot()
	if snapshot["failed_attempts"] != 2 || snapshot["retried_jobs"] != 2 {
		t.Errorf("unexpected metrics: %v", snapshot)
	}
	p.docs.checkTransitions(t)
}

func TestWorkerPool_ExhaustedGoesToDeadLetter(t *testing.T) {
	p := newPipeline(t)
	doc, job := p.upload(t, "broken.pdf")
	p.extractor.failures["broken.pdf"] = -1

	drain(t, p.pool, p.queue)

	got := p.document(t, doc.ID)
	if got.Status != models.DocumentFailed || got.RetryCount != 3 {
		t.Errorf("expected failed with 3 retries before dead-lettering, got %s with %d", got.Status, got.RetryCount)
	}

	p.monitor.Resync(context.Background())

	records := p.deadLetters(t)
	if len(records) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(records))
	}
	if records[0].JobID != job.ID || records[0].AttemptsMade != 3 || records[0].MaxAttempts != 3 {
		t.Errorf("unexpected dead letter: %+v", records[0])
	}

	got = p.document(t, doc.ID)
	if got.Status != models.DocumentFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "3 attempts") {
		t.Errorf("expected dead letter message, got %v", got.ErrorMessage)
	}
	if got.RetryCount != 3 {
		t.Errorf("expected monitor not to change retry count, got %d", got.RetryCount)
	}
	if p.alerter.count() != 1 {
		t.Errorf("expected 1 alert, got %d", p.alerter.count())
	}
	p.docs.checkTransitions(t)
}

func TestWorkerPool_LowConfidenceIsProcessed(t *testing.T) {
	p := newPipeline(t)
	doc, _ := p.upload(t, "receipt.png")
	p.extractor.texts["receipt.png"] = "Company: Acme Corp\nEmail: billing@acme.com"

	drain(t, p.pool, p.queue)

	got := p.document(t, doc.ID)
	if got.Status != models.DocumentProcessed {
		t.Fatalf("expected status processed, got %s", got.Status)
	}
	if got.ExtractedMetadata == nil || got.ExtractedMetadata.ExtractionConfidence != 33 {
		t.Errorf("expected confidence 33, got %+v", got.ExtractedMetadata)
	}
	if got.ProcessedAt == nil {
		t.Error("expected processedAt to be set")
	}
	if got.ErrorMessage != nil || got.RetryCount != 0 {
		t.Errorf("expected low confidence not to count as failure, got %v / %d", got.ErrorMessage, got.RetryCount)
	}
	if len(p.deadLetters(t)) != 0 {
		t.Error("expected no dead letters")
	}
	p.docs.checkTransitions(t)
}

func TestWorkerPool_RedeliveryOfCompletedDocument(t *testing.T) {
	p := newPipeline(t)
	doc, _ := p.upload(t, "invoice.pdf")
	drain(t, p.pool, p.queue)

	first := p.document(t, doc.ID)

	enqueueDocument(t, p.queue, first)
	drain(t, p.pool, p.queue)

	second := p.document(t, doc.ID)
	if second.Status != models.DocumentCompleted || second.RetryCount != first.RetryCount {
		t.Errorf("expected document unchanged, got %s retry %d", second.Status, second.RetryCount)
	}
	if !second.ProcessedAt.Equal(*first.ProcessedAt) {
		t.Error("expected processedAt to be stable")
	}
	if p.extractor.recognizeCalls("invoice.pdf") != 1 {
		t.Errorf("expected no reprocessing, got %d recognize calls", p.extractor.recognizeCalls("invoice.pdf"))
	}

	stats, _ := p.queue.Stats(context.Background())
	if stats.Completed != 2 {
		t.Errorf("expected both jobs completed, got %+v", stats)
	}
}

func TestWorkerPool_MissingBlobIsPermanent(t *testing.T) {
	p := newPipeline(t)
	doc, _ := p.upload(t, "gone.pdf")
	delete(p.blobs.objects, doc.StorageKey)

	drain(t, p.pool, p.queue)
	p.monitor.Resync(context.Background())

	got := p.document(t, doc.ID)
	if got.RetryCount != 1 {
		t.Errorf("expected a single attempt, got %d", got.RetryCount)
	}

	records := p.deadLetters(t)
	if len(records) != 1 || records[0].AttemptsMade != 1 {
		t.Fatalf("expected 1 dead letter after 1 attempt, got %+v", records)
	}
	if !strings.Contains(records[0].FailureReason, storage.ErrNotFound.Error()) {
		t.Errorf("expected not found reason, got %s", records[0].FailureReason)
	}
	p.docs.checkTransitions(t)
}

func TestWorkerPool_DeletedDocumentIsPermanent(t *testing.T) {
	p := newPipeline(t)
	doc, _ := p.upload(t, "deleted.pdf")
	p.docs.DeleteDocument(context.Background(), doc.ID)

	drain(t, p.pool, p.queue)
	p.monitor.Resync(context.Background())

	records := p.deadLetters(t)
	if len(records) != 1 || records[0].AttemptsMade != 1 {
		t.Fatalf("expected 1 dead letter after 1 attempt, got %+v", records)
	}
	if p.extractor.recognizeCalls("deleted.pdf") != 0 {
		t.Error("expected no recognition for a deleted document")
	}
}

func TestWorkerPool_TransientDownloadErrorRetries(t *testing.T) {
	p := newPipeline(t)
	doc, _ := p.upload(t, "invoice.pdf")
	p.blobs.getErr = errBoom

	job, _ := p.queue.Lease(context.Background())
	p.pool.ProcessJob(context.Background(), job)

	if job.State != models.JobPending || job.AttemptsMade != 1 {
		t.Errorf("expected job to be rescheduled, got %s with %d attempts", job.State, job.AttemptsMade)
	}

	got := p.document(t, doc.ID)
	if got.Status != models.DocumentFailed || got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "Attempt 1: download: boom") {
		t.Errorf("unexpected document after failure: %s %v", got.Status, got.ErrorMessage)
	}

	p.blobs.getErr = nil
	drain(t, p.pool, p.queue)

	if got := p.document(t, doc.ID); got.Status != models.DocumentCompleted || got.RetryCount != 1 {
		t.Errorf("expected completed after retry with retry count 1, got %s / %d", got.Status, got.RetryCount)
	}
	p.docs.checkTransitions(t)
}

func TestWorkerPool_RedeliveredAttemptCountsOnce(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	doc, _ := p.upload(t, "invoice.pdf")
	p.blobs.getErr = errBoom

	job, _ := p.queue.Lease(ctx)
	stale := *job
	p.pool.ProcessJob(ctx, job)

	// A second delivery of attempt 1, as after a crash before the queue saw the failure
	p.pool.ProcessJob(ctx, &stale)

	got := p.document(t, doc.ID)
	if got.RetryCount != 1 {
		t.Errorf("expected attempt 1 to count once, got retry count %d", got.RetryCount)
	}

	stored, err := p.queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stored.AttemptsMade != 1 || got.RetryCount > stored.MaxAttempts {
		t.Errorf("expected 1 attempt recorded by the queue, got %d", stored.AttemptsMade)
	}
}

func TestWorkerPool_Run_ConcurrentDocumentsAreIsolated(t *testing.T) {
	p := newPipeline(t)
	p.pool.cfg.Concurrency = 3

	var good []*models.Document
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf"} {
		doc, _ := p.upload(t, name)
		good = append(good, doc)
	}
	bad, _ := p.upload(t, "bad.pdf")
	p.extractor.failures["bad.pdf"] = -1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.pool.Run(ctx) }()

	waitFor(t, 10*time.Second, func() bool {
		stats, err := p.queue.Stats(context.Background())
		return err == nil && stats.Completed == len(good) && stats.Exhausted == 1
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker pool did not stop")
	}

	for _, doc := range good {
		got := p.document(t, doc.ID)
		if got.Status != models.DocumentCompleted || got.RetryCount != 0 {
			t.Errorf("document %s: expected completed with no retries, got %s / %d", doc.Filename, got.Status, got.RetryCount)
		}
	}
	if got := p.document(t, bad.ID); got.Status != models.DocumentFailed || got.RetryCount != 3 {
		t.Errorf("expected failing document to use 3 attempts, got %s / %d", got.Status, got.RetryCount)
	}
	p.docs.checkTransitions(t)
}

func TestWorkerPool_Run_ShutdownWaitsForInFlightJobs(t *testing.T) {
	p := newPipeline(t)
	p.extractor.release = make(chan struct{})
	doc, _ := p.upload(t, "slow.pdf")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.pool.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return p.metrics.InFlight() == 1 })
	cancel()

	select {
	case <-done:
		t.Fatal("expected Run to wait for the in-flight job")
	case <-time.After(100 * time.Millisecond):
	}

	close(p.extractor.release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker pool did not stop")
	}

	if got := p.document(t, doc.ID); got.Status != models.DocumentCompleted {
		t.Errorf("expected in-flight job to finish after shutdown signal, got %s", got.Status)
	}
}

func TestWorkerPool_StageTimeout(t *testing.T) {
	p := newPipeline(t)
	p.pool.cfg.StageTimeout = 20 * time.Millisecond
	p.extractor.release = make(chan struct{})
	doc, _ := p.upload(t, "hangs.pdf")

	job, _ := p.queue.Lease(context.Background())
	p.pool.ProcessJob(context.Background(), job)

	got := p.document(t, doc.ID)
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "recognize") {
		t.Errorf("expected recognize timeout message, got %v", got.ErrorMessage)
	}
	if job.State != models.JobPending {
		t.Errorf("expected timed out job to be retried, got %s", job.State)
	}
}

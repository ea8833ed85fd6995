package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"doc-queue/internal/extract"
	"doc-queue/internal/logging"
	"doc-queue/internal/models"
	"doc-queue/internal/queue"
	"doc-queue/internal/repository"
	"doc-queue/internal/storage"
)

// mockDocumentRepository is an in-memory DocumentRepository that records every status change
type mockDocumentRepository struct {
	mu        sync.Mutex
	docs      map[string]*models.Document
	history   map[string][]models.DocumentStatus
	nextID    int
	createErr error
	updateErr error
}

func newMockDocumentRepository() *mockDocumentRepository {
	return &mockDocumentRepository{
		docs:    make(map[string]*models.Document),
		history: make(map[string][]models.DocumentStatus),
	}
}

func (m *mockDocumentRepository) CreateDocument(ctx context.Context, req *models.CreateDocumentRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return "", m.createErr
	}

	m.nextID++
	id := fmt.Sprintf("doc-%d", m.nextID)
	m.docs[id] = &models.Document{
		ID:           id,
		Filename:     req.Filename,
		OriginalName: req.OriginalName,
		FileSize:     req.FileSize,
		MimeType:     req.MimeType,
		StorageKey:   req.StorageKey,
		Status:       models.DocumentUploaded,
		UploadedAt:   time.Now(),
	}
	m.history[id] = []models.DocumentStatus{models.DocumentUploaded}
	return id, nil
}

func (m *mockDocumentRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (m *mockDocumentRepository) UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}

	doc, ok := m.docs[id]
	if !ok {
		return repository.ErrNotFound
	}

	if update.Status != nil {
		doc.Status = *update.Status
		m.history[id] = append(m.history[id], *update.Status)
	}
	if update.ProcessedAt != nil {
		t := *update.ProcessedAt
		doc.ProcessedAt = &t
	}
	if update.OCRResult != nil {
		doc.OCRResult = update.OCRResult
	}
	if update.ExtractedMetadata != nil {
		doc.ExtractedMetadata = update.ExtractedMetadata
	}
	if update.ProcessingTimeMs != nil {
		v := *update.ProcessingTimeMs
		doc.ProcessingTimeMs = &v
	}
	if update.ErrorMessage != nil {
		v := *update.ErrorMessage
		doc.ErrorMessage = &v
	}
	if update.FailedAttempt != nil && doc.RetryCount < *update.FailedAttempt {
		doc.RetryCount = *update.FailedAttempt
	}
	return nil
}

func (m *mockDocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *mockDocumentRepository) Close() error {
	return nil
}

func (m *mockDocumentRepository) add(t *testing.T, filename string) *models.Document {
	t.Helper()
	id, err := m.CreateDocument(context.Background(), &models.CreateDocumentRequest{
		Filename:     filename,
		OriginalName: filename,
		FileSize:     4,
		MimeType:     "application/pdf",
		StorageKey:   "acc_acme_123/2024-06-23/" + filename,
	})
	if err != nil {
		t.Fatalf("failed to create document: %v", err)
	}
	doc, _ := m.GetDocument(context.Background(), id)
	return doc
}

// checkTransitions fails the test if any recorded status change breaks the state machine
func (m *mockDocumentRepository) checkTransitions(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, statuses := range m.history {
		for i := 1; i < len(statuses); i++ {
			from, to := statuses[i-1], statuses[i]
			if from != to && !from.CanTransitionTo(to) {
				t.Errorf("document %s: illegal transition %s -> %s (history %v)", id, from, to, statuses)
			}
			if from == to && from != models.DocumentFailed {
				t.Errorf("document %s: repeated status %s (history %v)", id, from, statuses)
			}
		}
	}
}

// mockBlobStore is an in-memory BlobStore
type mockBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{objects: make(map[string][]byte)}
}

func (m *mockBlobStore) Put(ctx context.Context, namespace, filename string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.putErr != nil {
		return "", m.putErr
	}
	key := storage.ObjectKey(namespace, filename, time.Now())
	m.objects[key] = data
	return key, nil
}

func (m *mockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *mockBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.objects, key)
	return nil
}

// scriptedExtractor fails recognition a set number of times per filename
type scriptedExtractor struct {
	mu       sync.Mutex
	failures map[string]int
	texts    map[string]string
	calls    map[string]int
	release  chan struct{}
	pattern  *extract.PatternExtractor
}

func newScriptedExtractor() *scriptedExtractor {
	return &scriptedExtractor{
		failures: make(map[string]int),
		texts:    make(map[string]string),
		calls:    make(map[string]int),
		pattern:  extract.NewPatternExtractor(),
	}
}

func (s *scriptedExtractor) Recognize(ctx context.Context, data []byte, filename string) (*models.OCRResult, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[filename]++
	if s.failures[filename] != 0 {
		if s.failures[filename] > 0 {
			s.failures[filename]--
		}
		return nil, &extract.ServiceError{Service: "ocr", Message: "simulated timeout"}
	}

	text, ok := s.texts[filename]
	if !ok {
		text = extract.SampleInvoiceText
	}
	return &models.OCRResult{Text: text, Confidence: 87}, nil
}

func (s *scriptedExtractor) Extract(ctx context.Context, ocr *models.OCRResult) *models.InvoiceMetadata {
	m, _ := s.pattern.ExtractMetadata(ctx, ocr.Text)
	return m
}

func (s *scriptedExtractor) recognizeCalls(filename string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[filename]
}

// recordingAlerter collects alerts
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *recordingAlerter) Alert(ctx context.Context, alert Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

// newTestQueue returns a SQLite-backed queue whose retries are immediately runnable
func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return queue.New(repo, queue.Config{
		LeaseDuration: time.Minute,
		Defaults: models.EnqueueOptions{
			Priority:    1,
			MaxAttempts: 3,
			Backoff:     models.Backoff{Type: models.BackoffFixed},
		},
	}, logging.Discard())
}

func enqueueDocument(t *testing.T, q *queue.Queue, doc *models.Document) *models.Job {
	t.Helper()
	job, err := q.Enqueue(context.Background(), models.ProcessingPayload{
		DocumentID: doc.ID,
		StorageKey: doc.StorageKey,
		Filename:   doc.Filename,
	}, models.EnqueueOptions{})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	return job
}

// drain leases and processes jobs on the calling goroutine until the queue is empty
func drain(t *testing.T, pool *WorkerPool, q *queue.Queue) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		job, err := q.Lease(ctx)
		if err != nil {
			t.Fatalf("failed to lease: %v", err)
		}
		if job == nil {
			return
		}
		pool.ProcessJob(ctx, job)
	}
	t.Fatal("queue did not drain")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func errContains(err error, substr string) bool {
	return err != nil && strings.Contains(err.Error(), substr)
}

var errBoom = errors.New("boom")

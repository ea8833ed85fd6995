package repository

import (
	"context"
	"doc-queue/internal/models"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds connection pool settings for the document store
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

// PostgresDocumentRepository implements DocumentRepository using PostgreSQL
type PostgresDocumentRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresDocumentRepository connects to PostgreSQL and ensures the documents table exists
func NewPostgresDocumentRepository(ctx context.Context, cfg PostgresConfig) (*PostgresDocumentRepository, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "doc-queue"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &PostgresDocumentRepository{pool: pool, now: time.Now}
	if err := repo.initSchema(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the connection pool
func (r *PostgresDocumentRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresDocumentRepository) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		filename VARCHAR(255) NOT NULL,
		original_name VARCHAR(255) NOT NULL,
		file_size BIGINT NOT NULL,
		mime_type VARCHAR(100) NOT NULL,
		storage_key VARCHAR(500) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'uploaded',
		uploaded_at BIGINT NOT NULL,
		processed_at BIGINT,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		processing_time_ms BIGINT,
		ocr_result JSONB,
		extracted_metadata JSONB,
		updated_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at);
	CREATE INDEX IF NOT EXISTS idx_documents_storage_key ON documents(storage_key);
	`

	_, err := r.pool.Exec(ctx, schema)
	return err
}

// CreateDocument creates a new document in the UPLOADED state and returns its ID
func (r *PostgresDocumentRepository) CreateDocument(ctx context.Context, req *models.CreateDocumentRequest) (string, error) {
	query := `
		INSERT INTO documents (id, filename, original_name, file_size, mime_type, storage_key, status, uploaded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`

	id := uuid.New().String()
	_, err := r.pool.Exec(ctx, query,
		id,
		req.Filename,
		req.OriginalName,
		req.FileSize,
		req.MimeType,
		req.StorageKey,
		string(models.DocumentUploaded),
		r.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}

	return id, nil
}

// GetDocument retrieves a document by ID
func (r *PostgresDocumentRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `
		SELECT id::text, filename, original_name, file_size, mime_type, storage_key, status, uploaded_at,
		       processed_at, error_message, retry_count, processing_time_ms, ocr_result, extracted_metadata
		FROM documents
		WHERE id = $1
	`

	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var doc models.Document
	var status string
	var uploadedAt int64
	var processedAt *int64
	var ocrResult, metadata []byte

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID,
		&doc.Filename,
		&doc.OriginalName,
		&doc.FileSize,
		&doc.MimeType,
		&doc.StorageKey,
		&status,
		&uploadedAt,
		&processedAt,
		&doc.ErrorMessage,
		&doc.RetryCount,
		&doc.ProcessingTimeMs,
		&ocrResult,
		&metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Status = models.DocumentStatus(status)
	doc.UploadedAt = millisToTime(uploadedAt)
	if processedAt != nil {
		t := millisToTime(*processedAt)
		doc.ProcessedAt = &t
	}

	if err := decodeDocumentJSON(&doc, ocrResult, metadata); err != nil {
		return nil, err
	}

	return &doc, nil
}

// UpdateDocument applies a partial update to a document in a single statement
func (r *PostgresDocumentRepository) UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error {
	if update.Empty() {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	sets, args, err := buildDocumentUpdate(update, r.now(), func(n int) string { return fmt.Sprintf("$%d", n) })
	if err != nil {
		return err
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE documents SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteDocument deletes a document by ID
func (r *PostgresDocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	tag, err := r.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

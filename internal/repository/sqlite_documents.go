package repository

import (
	"context"
	"database/sql"
	"doc-queue/internal/models"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateDocument creates a new document in the UPLOADED state and returns its ID
func (r *SQLiteRepository) CreateDocument(ctx context.Context, req *models.CreateDocumentRequest) (string, error) {
	query := `
		INSERT INTO documents (id, filename, original_name, file_size, mime_type, storage_key, status, uploaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	id := uuid.New().String()
	now := r.now().UnixMilli()
	_, err := r.db.ExecContext(ctx, query,
		id,
		req.Filename,
		req.OriginalName,
		req.FileSize,
		req.MimeType,
		req.StorageKey,
		string(models.DocumentUploaded),
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}

	return id, nil
}

// GetDocument retrieves a document by ID
func (r *SQLiteRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `
		SELECT id, filename, original_name, file_size, mime_type, storage_key, status, uploaded_at,
		       processed_at, error_message, retry_count, processing_time_ms, ocr_result, extracted_metadata
		FROM documents
		WHERE id = ?
	`

	var doc models.Document
	var uploadedAt int64
	var processedAt, processingTimeMs sql.NullInt64
	var errorMessage, ocrResult, metadata sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.Filename,
		&doc.OriginalName,
		&doc.FileSize,
		&doc.MimeType,
		&doc.StorageKey,
		&doc.Status,
		&uploadedAt,
		&processedAt,
		&errorMessage,
		&doc.RetryCount,
		&processingTimeMs,
		&ocrResult,
		&metadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.UploadedAt = millisToTime(uploadedAt)
	if processedAt.Valid {
		t := millisToTime(processedAt.Int64)
		doc.ProcessedAt = &t
	}
	if errorMessage.Valid {
		doc.ErrorMessage = &errorMessage.String
	}
	if processingTimeMs.Valid {
		doc.ProcessingTimeMs = &processingTimeMs.Int64
	}

	if err := decodeDocumentJSON(&doc, []byte(ocrResult.String), []byte(metadata.String)); err != nil {
		return nil, err
	}

	return &doc, nil
}

// UpdateDocument applies a partial update to a document in a single statement
func (r *SQLiteRepository) UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error {
	if update.Empty() {
		return nil
	}

	sets, args, err := buildDocumentUpdate(update, r.now(), func(int) string { return "?" })
	if err != nil {
		return err
	}

	query := `UPDATE documents SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteDocument deletes a document by ID
func (r *SQLiteRepository) DeleteDocument(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

package repository

import (
	"context"
	"doc-queue/internal/models"
	"encoding/json"
	"fmt"
	"time"
)

// DocumentRepository defines the interface for document persistence
type DocumentRepository interface {
	CreateDocument(ctx context.Context, req *models.CreateDocumentRequest) (string, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error
	DeleteDocument(ctx context.Context, id string) error
	Close() error
}

// buildDocumentUpdate renders a partial update as SET clauses. placeholder returns the
// bind marker for the n-th argument (1-based) so the same builder serves both SQL dialects.
func buildDocumentUpdate(update models.DocumentUpdate, now time.Time, placeholder func(n int) string) ([]string, []interface{}, error) {
	var sets []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = %s", column, placeholder(len(args))))
	}

	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.ProcessedAt != nil {
		add("processed_at", update.ProcessedAt.UnixMilli())
	}
	if update.OCRResult != nil {
		b, err := json.Marshal(update.OCRResult)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode ocr result: %w", err)
		}
		add("ocr_result", string(b))
	}
	if update.ExtractedMetadata != nil {
		b, err := json.Marshal(update.ExtractedMetadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		add("extracted_metadata", string(b))
	}
	if update.ProcessingTimeMs != nil {
		add("processing_time_ms", *update.ProcessingTimeMs)
	}
	if update.ErrorMessage != nil {
		add("error_message", *update.ErrorMessage)
	}
	if update.FailedAttempt != nil {
		args = append(args, *update.FailedAttempt)
		below := placeholder(len(args))
		args = append(args, *update.FailedAttempt)
		sets = append(sets, fmt.Sprintf("retry_count = CASE WHEN retry_count < %s THEN %s ELSE retry_count END", below, placeholder(len(args))))
	}
	add("updated_at", now.UnixMilli())

	return sets, args, nil
}

// decodeDocumentJSON fills the JSON-encoded result columns of a scanned document
func decodeDocumentJSON(doc *models.Document, ocrResult, metadata []byte) error {
	if len(ocrResult) > 0 {
		var r models.OCRResult
		if err := json.Unmarshal(ocrResult, &r); err != nil {
			return fmt.Errorf("failed to decode ocr result: %w", err)
		}
		doc.OCRResult = &r
	}
	if len(metadata) > 0 {
		var m models.InvoiceMetadata
		if err := json.Unmarshal(metadata, &m); err != nil {
			return fmt.Errorf("failed to decode metadata: %w", err)
		}
		doc.ExtractedMetadata = &m
	}
	return nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

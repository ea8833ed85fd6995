// Package extract turns document bytes into recognized text and structured invoice metadata.
package extract

import (
	"context"
	"fmt"
	"log/slog"

	"doc-queue/internal/models"
)

// ValidConfidence is the extraction confidence a document must exceed to be auto-completed
const ValidConfidence = 50

// Extractor is what the worker pool drives for each document
type Extractor interface {
	// Recognize returns the text in data. Errors are transient unless wrapped as permanent by the caller.
	Recognize(ctx context.Context, data []byte, filename string) (*models.OCRResult, error)

	// Extract never fails; when every strategy errors it falls back to pattern matching.
	Extract(ctx context.Context, ocr *models.OCRResult) *models.InvoiceMetadata
}

// Recognizer performs OCR on raw document bytes
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, filename string) (*models.OCRResult, error)
}

// MetadataExtractor pulls invoice fields out of recognized text
type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, text string) (*models.InvoiceMetadata, error)
}

// ServiceError is returned when an external extraction dependency fails
type ServiceError struct {
	Service string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// IsValid reports whether metadata is confident enough to complete the document
func IsValid(m *models.InvoiceMetadata) bool {
	return m != nil && m.ExtractionConfidence > ValidConfidence
}

// Service composes a recognizer with an ordered list of metadata extractors.
// The pattern extractor is always the last resort.
type Service struct {
	recognizer Recognizer
	extractors []MetadataExtractor
	fallback   *PatternExtractor
	logger     *slog.Logger
}

// NewService creates an extraction service. extractors are tried in order.
func NewService(recognizer Recognizer, logger *slog.Logger, extractors ...MetadataExtractor) *Service {
	return &Service{
		recognizer: recognizer,
		extractors: extractors,
		fallback:   NewPatternExtractor(),
		logger:     logger.With("component", "extract"),
	}
}

func (s *Service) Recognize(ctx context.Context, data []byte, filename string) (*models.OCRResult, error) {
	return s.recognizer.Recognize(ctx, data, filename)
}

func (s *Service) Extract(ctx context.Context, ocr *models.OCRResult) *models.InvoiceMetadata {
	for _, e := range s.extractors {
		metadata, err := e.ExtractMetadata(ctx, ocr.Text)
		if err == nil {
			return metadata
		}
		s.logger.Warn("extraction failed, falling back", "extractor", fmt.Sprintf("%T", e), "error", err)
	}

	metadata, _ := s.fallback.ExtractMetadata(ctx, ocr.Text)
	return metadata
}

package extract

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"doc-queue/internal/models"
)

// SampleInvoiceText is what the simulated recognizer returns for every document
const SampleInvoiceText = "INVOICE\nCompany: Acme Corp\nEmail: billing@acme.com\nInvoice #: INV-2024-001\nDate: 2024-06-23\nAmount: $1,250.00\nCurrency: USD\nThank you for your business!"

// SimulatedRecognizer stands in for a real OCR engine. With test failures enabled,
// markers in the filename make it fail on demand.
type SimulatedRecognizer struct {
	testFailures bool
	latency      time.Duration
	random       func() float64
	logger       *slog.Logger
}

// NewSimulatedRecognizer creates a recognizer that answers after latency
func NewSimulatedRecognizer(testFailures bool, latency time.Duration, logger *slog.Logger) *SimulatedRecognizer {
	return &SimulatedRecognizer{
		testFailures: testFailures,
		latency:      latency,
		random:       rand.Float64,
		logger:       logger.With("component", "ocr"),
	}
}

func (r *SimulatedRecognizer) Recognize(ctx context.Context, data []byte, filename string) (*models.OCRResult, error) {
	if r.testFailures {
		if err := r.checkFailureTriggers(filename); err != nil {
			r.logger.Info("test failure triggered", "filename", filename, "error", err)
			return nil, err
		}
	}

	if r.latency > 0 {
		select {
		case <-time.After(r.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &models.OCRResult{Text: SampleInvoiceText, Confidence: 87}, nil
}

func (r *SimulatedRecognizer) checkFailureTriggers(filename string) error {
	switch {
	case strings.Contains(filename, "fail-late"):
		return &ServiceError{Service: "processing", Message: "late-stage processing failure"}
	case strings.Contains(filename, "fail-ocr"):
		return &ServiceError{Service: "ocr", Message: "service unavailable"}
	case strings.Contains(filename, "fail-storage"):
		return &ServiceError{Service: "storage", Message: "timeout"}
	case strings.Contains(filename, "fail-extraction"):
		return &ServiceError{Service: "extraction", Message: "metadata extraction failed"}
	case strings.Contains(filename, "fail-random"):
		if r.random() < 0.8 {
			return &ServiceError{Service: "ocr", Message: "random failure, unstable service"}
		}
	}
	return nil
}

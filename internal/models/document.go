package models

import "time"

// DocumentStatus represents the lifecycle state of an uploaded document
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentProcessed  DocumentStatus = "processed"
	DocumentValidated  DocumentStatus = "validated"
	DocumentFailed     DocumentStatus = "failed"
	DocumentCompleted  DocumentStatus = "completed"
)

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentUploaded:   {DocumentProcessing},
	DocumentProcessing: {DocumentValidated, DocumentProcessed, DocumentFailed},
	DocumentValidated:  {DocumentCompleted, DocumentFailed},
	DocumentFailed:     {DocumentProcessing, DocumentFailed},
}

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentUploaded, DocumentProcessing, DocumentProcessed,
		DocumentValidated, DocumentFailed, DocumentCompleted:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
// FAILED is only terminal once the job is dead-lettered, which the status alone cannot tell.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentCompleted || s == DocumentProcessed
}

// CanTransitionTo reports whether moving from s to next follows the state machine.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	for _, allowed := range documentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OCRResult is the recognized text of a document
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// InvoiceMetadata holds the structured fields extracted from OCR text
type InvoiceMetadata struct {
	CustomerName         *string  `json:"customerName"`
	CustomerEmail        *string  `json:"customerEmail"`
	InvoiceNumber        *string  `json:"invoiceNumber"`
	InvoiceDate          *string  `json:"invoiceDate"`
	TotalAmount          *float64 `json:"totalAmount"`
	Currency             *string  `json:"currency"`
	ExtractionConfidence int      `json:"extractionConfidence"`
}

// Document represents an uploaded document and its processing results
type Document struct {
	ID                string           `json:"id"`
	Filename          string           `json:"filename"`
	OriginalName      string           `json:"original_name"`
	FileSize          int64            `json:"file_size"`
	MimeType          string           `json:"mime_type"`
	StorageKey        string           `json:"storage_key"`
	Status            DocumentStatus   `json:"status"`
	UploadedAt        time.Time        `json:"uploaded_at"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty"`
	OCRResult         *OCRResult       `json:"ocr_result,omitempty"`
	ExtractedMetadata *InvoiceMetadata `json:"extracted_metadata,omitempty"`
	ErrorMessage      *string          `json:"error_message,omitempty"`
	RetryCount        int              `json:"retry_count"`
	ProcessingTimeMs  *int64           `json:"processing_time_ms,omitempty"`
}

// CreateDocumentRequest holds the fields recorded at upload time
type CreateDocumentRequest struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	FileSize     int64  `json:"file_size"`
	MimeType     string `json:"mime_type"`
	StorageKey   string `json:"storage_key"`
}

// DocumentUpdate is a partial update; nil fields are left untouched
type DocumentUpdate struct {
	Status            *DocumentStatus
	ProcessedAt       *time.Time
	OCRResult         *OCRResult
	ExtractedMetadata *InvoiceMetadata
	ProcessingTimeMs  *int64
	ErrorMessage      *string
	// FailedAttempt raises retryCount to this attempt number; it never lowers it,
	// so recording the same attempt twice counts it once
	FailedAttempt *int
}

// Empty reports whether the update would change nothing.
func (u DocumentUpdate) Empty() bool {
	return u.Status == nil && u.ProcessedAt == nil && u.OCRResult == nil &&
		u.ExtractedMetadata == nil && u.ProcessingTimeMs == nil &&
		u.ErrorMessage == nil && u.FailedAttempt == nil
}

// UploadRequest is a document received from a client
type UploadRequest struct {
	OriginalName string
	MimeType     string
	Data         []byte
}

// UploadResult identifies the stored document and its processing job
type UploadResult struct {
	DocumentID string `json:"documentId"`
	JobID      string `json:"jobId"`
}

// UpdateDocumentRequest is the operator-editable subset of a document
type UpdateDocumentRequest struct {
	Status       *DocumentStatus `json:"status,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
}

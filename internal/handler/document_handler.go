package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"doc-queue/internal/models"
	"doc-queue/internal/service"
)

// multipart framing allowance on top of the file size limit
const multipartOverhead = 1 << 20

// DocumentHandler handles HTTP requests for documents
type DocumentHandler struct {
	documents     *service.DocumentService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(documents *service.DocumentService, maxUploadSize int64, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		documents:     documents,
		maxUploadSize: maxUploadSize,
		logger:        logger.With("component", "http"),
	}
}

// Upload handles POST /documents with a multipart "file" field
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, errUnauthorized)
		return
	}

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, h.logger, http.StatusRequestEntityTooLarge, service.ErrFileTooLarge)
			return
		}
		respondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("no file uploaded: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("failed to read file: %w", err))
		return
	}

	result, err := h.documents.Upload(r.Context(), account, &models.UploadRequest{
		OriginalName: header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		Data:         data,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrRateLimitExceeded):
			status = http.StatusTooManyRequests
		case errors.Is(err, service.ErrInvalidFileType),
			errors.Is(err, service.ErrEmptyFile),
			errors.Is(err, service.ErrFileTooLarge):
			status = http.StatusBadRequest
		}
		respondError(w, h.logger, status, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// GetDocument handles GET /documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, documentErrorStatus(err), err)
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// UpdateDocument handles PUT /documents/{id}
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	doc, err := h.documents.UpdateDocument(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		respondError(w, h.logger, documentErrorStatus(err), err)
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /documents/{id}
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.documents.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, h.logger, documentErrorStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func documentErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

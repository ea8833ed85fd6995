package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"doc-queue/internal/metrics"
	"doc-queue/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// AdminHandler handles operator requests for the queue and dead letters
type AdminHandler struct {
	admin   *service.AdminService
	metrics *metrics.Metrics
	db      Pinger
	logger  *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin *service.AdminService, metrics *metrics.Metrics, db Pinger, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:   admin,
		metrics: metrics,
		db:      db,
		logger:  logger.With("component", "http"),
	}
}

// QueueStatus handles GET /admin/queue
func (h *AdminHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.admin.QueueStatus(r.Context())
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// ListDeadLetters handles GET /admin/dead-letters
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	records, err := h.admin.ListDeadLetters(r.Context())
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, records)
}

// GetDeadLetter handles GET /admin/dead-letters/{id}
func (h *AdminHandler) GetDeadLetter(w http.ResponseWriter, r *http.Request) {
	record, err := h.admin.GetDeadLetter(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, deadLetterErrorStatus(err), err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

// ReplayDeadLetter handles POST /admin/dead-letters/{id}/replay
func (h *AdminHandler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	job, err := h.admin.ReplayDeadLetter(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, deadLetterErrorStatus(err), err)
		return
	}

	respondJSON(w, http.StatusAccepted, job)
}

// ExportDeadLetters handles GET /admin/dead-letters/export
func (h *AdminHandler) ExportDeadLetters(w http.ResponseWriter, r *http.Request) {
	data, err := h.admin.ExportDeadLetters(r.Context())
	if err != nil {
		respondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="dead-letters.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("error writing export", "error", err)
	}
}

// GetMetrics handles GET /metrics
func (h *AdminHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.metrics.GetSnapshot())
}

// Health handles GET /health
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		respondError(w, h.logger, http.StatusServiceUnavailable, fmt.Errorf("database unavailable: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func deadLetterErrorStatus(err error) int {
	if errors.Is(err, service.ErrDeadLetterNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

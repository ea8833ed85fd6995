package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"doc-queue/internal/metrics"
	"doc-queue/internal/models"
	"doc-queue/internal/queue"
	"doc-queue/internal/repository"
)

// DeadLetterQueue is the part of the job queue the monitor uses
type DeadLetterQueue interface {
	Subscribe(ctx context.Context) <-chan queue.Event
	Get(ctx context.Context, id string) (*models.Job, error)
	Exhausted(ctx context.Context) ([]*models.Job, error)
	DeadLetter(ctx context.Context, jobID, reason string) (*models.DeadLetterRecord, error)
}

// Alert describes a document that will not be processed without operator action
type Alert struct {
	DocumentID   string
	JobID        string
	Filename     string
	Reason       string
	AttemptsMade int
	At           time.Time
}

// Alerter notifies operators of dead-lettered documents
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// LogAlerter writes alerts as error-level log records
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger.With("component", "alert")}
}

func (a *LogAlerter) Alert(ctx context.Context, alert Alert) error {
	a.logger.ErrorContext(ctx, "document dead-lettered",
		"document_id", alert.DocumentID,
		"job_id", alert.JobID,
		"filename", alert.Filename,
		"attempts_made", alert.AttemptsMade,
		"reason", alert.Reason,
		"timestamp", alert.At.UTC().Format(time.RFC3339),
	)
	return nil
}

// DeadLetterMonitor moves exhausted jobs to the dead letter store, marks their
// documents failed and raises one alert per exhausted job
type DeadLetterMonitor struct {
	queue          DeadLetterQueue
	docs           repository.DocumentRepository
	alerter        Alerter
	metrics        *metrics.Metrics
	resyncInterval time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewDeadLetterMonitor creates a new monitor
func NewDeadLetterMonitor(
	queue DeadLetterQueue,
	docs repository.DocumentRepository,
	alerter Alerter,
	metrics *metrics.Metrics,
	resyncInterval time.Duration,
	logger *slog.Logger,
) *DeadLetterMonitor {
	return &DeadLetterMonitor{
		queue:          queue,
		docs:           docs,
		alerter:        alerter,
		metrics:        metrics,
		resyncInterval: resyncInterval,
		logger:         logger.With("component", "dead_letter_monitor"),
		now:            time.Now,
	}
}

// Run consumes queue events until ctx is cancelled. A periodic resync picks up
// exhausted jobs whose events were dropped or lost to a restart.
func (m *DeadLetterMonitor) Run(ctx context.Context) error {
	events := m.queue.Subscribe(ctx)
	m.logger.Info("dead letter monitor started")

	var tick <-chan time.Time
	if m.resyncInterval > 0 {
		ticker := time.NewTicker(m.resyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				m.logger.Info("dead letter monitor stopped")
				return nil
			}
			m.HandleEvent(ctx, ev)
		case <-tick:
			m.Resync(ctx)
		case <-ctx.Done():
			m.logger.Info("dead letter monitor stopped")
			return nil
		}
	}
}

// HandleEvent reacts to a single queue event
func (m *DeadLetterMonitor) HandleEvent(ctx context.Context, ev queue.Event) {
	switch ev.Type {
	case queue.EventRetrying:
		m.logger.Info("job retrying", "job_id", ev.JobID, "attempts_made", ev.AttemptsMade, "reason", ev.Reason)
	case queue.EventFailed:
		m.handleFailed(ctx, ev)
	}
}

func (m *DeadLetterMonitor) handleFailed(ctx context.Context, ev queue.Event) {
	job, err := m.queue.Get(ctx, ev.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			m.logger.Warn("failed job not found", "job_id", ev.JobID)
			return
		}
		m.logger.Error("error loading failed job", "job_id", ev.JobID, "error", err)
		return
	}

	if !job.Exhausted() {
		m.logger.Info("retry pending",
			"job_id", job.ID,
			"document_id", job.Payload.DocumentID,
			"attempts_made", job.AttemptsMade,
			"max_attempts", job.MaxAttempts,
		)
		return
	}

	m.deadLetter(ctx, job)
}

// Resync dead-letters every job currently exhausted in the queue
func (m *DeadLetterMonitor) Resync(ctx context.Context) {
	jobs, err := m.queue.Exhausted(ctx)
	if err != nil {
		m.logger.Error("error listing exhausted jobs", "error", err)
		return
	}

	for _, job := range jobs {
		m.deadLetter(ctx, job)
	}
}

func (m *DeadLetterMonitor) deadLetter(ctx context.Context, job *models.Job) {
	logger := m.logger.With("job_id", job.ID, "document_id", job.Payload.DocumentID)
	reason := job.FailedReason
	if reason == "" {
		reason = "unknown error"
	}

	record, err := m.queue.DeadLetter(ctx, job.ID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Already moved, and alerted, by an earlier event, a resync or another monitor
			return
		}
		logger.Error("error moving job to dead letter queue", "error", err)
		return
	}
	m.metrics.IncrementDeadLetteredJobs()

	failed := models.DocumentFailed
	message := fmt.Sprintf("Dead letter (%d attempts): %s", record.AttemptsMade, reason)
	err = m.docs.UpdateDocument(ctx, job.Payload.DocumentID, models.DocumentUpdate{
		Status:       &failed,
		ErrorMessage: &message,
	})
	if err != nil {
		logger.Error("error marking document failed", "error", err)
	}

	logger.Warn("job moved to dead letter queue", "record_id", record.ID, "attempts_made", record.AttemptsMade, "reason", reason)

	alert := Alert{
		DocumentID:   job.Payload.DocumentID,
		JobID:        job.ID,
		Filename:     job.Payload.Filename,
		Reason:       reason,
		AttemptsMade: record.AttemptsMade,
		At:           m.now(),
	}
	if err := m.alerter.Alert(ctx, alert); err != nil {
		logger.Error("error sending alert", "error", err)
	}
}

// Package queue is the durable priority job queue between the upload API and the worker pool.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"doc-queue/internal/models"
	"doc-queue/internal/repository"

	"github.com/google/uuid"
)

// Repository is the persistence the queue needs
type Repository interface {
	repository.JobRepository
	repository.DeadLetterRepository
}

// Config holds queue settings
type Config struct {
	LeaseDuration time.Duration
	Defaults      models.EnqueueOptions
	EventBuffer   int
}

// Queue hands each job to one consumer at a time and applies the job's retry policy on failure
type Queue struct {
	repo   Repository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
}

// New creates a queue on top of repo
func New(repo Repository, cfg Config, logger *slog.Logger) *Queue {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 5 * time.Minute
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Defaults.MaxAttempts == 0 {
		cfg.Defaults = models.DefaultEnqueueOptions()
	}

	return &Queue{
		repo:        repo,
		cfg:         cfg,
		logger:      logger.With("component", "queue"),
		now:         time.Now,
		subscribers: make(map[int]chan Event),
	}
}

// Defaults returns the options applied to jobs enqueued without explicit options
func (q *Queue) Defaults() models.EnqueueOptions {
	return q.cfg.Defaults
}

// Enqueue adds a job for payload. Zero-valued options fall back to the queue defaults.
func (q *Queue) Enqueue(ctx context.Context, payload models.ProcessingPayload, opts models.EnqueueOptions) (*models.Job, error) {
	if payload.DocumentID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	d := q.cfg.Defaults
	if opts.Priority == 0 {
		opts.Priority = d.Priority
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = d.MaxAttempts
	}
	if opts.Backoff.Type == "" {
		opts.Backoff = d.Backoff
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		Payload:     payload,
		State:       models.JobPending,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		RunAt:       q.now().Add(opts.Delay),
	}

	if err := q.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	q.logger.Info("job enqueued",
		"job_id", job.ID,
		"account_id", payload.AccountID,
		"document_id", payload.DocumentID,
		"priority", job.Priority,
		"delay", opts.Delay,
	)

	return job, nil
}

// Lease returns the next runnable job, or nil when none is ready
func (q *Queue) Lease(ctx context.Context) (*models.Job, error) {
	return q.repo.LeaseJob(ctx, q.cfg.LeaseDuration)
}

// Complete marks a leased job as done
func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	if err := q.repo.CompleteJob(ctx, job); err != nil {
		return err
	}
	job.State = models.JobCompleted
	return nil
}

// Fail records a failed attempt. The job is rescheduled with backoff while attempts
// remain and cause is not permanent; otherwise it is exhausted. It reports whether
// the job will run again.
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause error) (bool, error) {
	reason := cause.Error()
	job.AttemptsMade++

	if IsPermanent(cause) || job.AttemptsMade >= job.MaxAttempts {
		if err := q.repo.ExhaustJob(ctx, job, reason); err != nil {
			job.AttemptsMade--
			return false, err
		}
		job.State = models.JobExhausted
		job.FailedReason = reason

		q.logger.Warn("job exhausted",
			"job_id", job.ID,
			"document_id", job.Payload.DocumentID,
			"attempts_made", job.AttemptsMade,
			"max_attempts", job.MaxAttempts,
			"permanent", IsPermanent(cause),
			"error", reason,
		)
		q.publish(Event{Type: EventFailed, JobID: job.ID, AttemptsMade: job.AttemptsMade, Reason: reason, At: q.now()})
		return false, nil
	}

	delay := job.Backoff.Next(job.AttemptsMade)
	runAt := q.now().Add(delay)
	if err := q.repo.RetryJob(ctx, job, reason, runAt); err != nil {
		job.AttemptsMade--
		return false, err
	}
	job.State = models.JobPending
	job.FailedReason = reason
	job.RunAt = runAt

	q.logger.Info("job scheduled for retry",
		"job_id", job.ID,
		"document_id", job.Payload.DocumentID,
		"attempts_made", job.AttemptsMade,
		"max_attempts", job.MaxAttempts,
		"backoff", delay,
	)
	q.publish(Event{Type: EventFailed, JobID: job.ID, AttemptsMade: job.AttemptsMade, Reason: reason, At: q.now()})
	q.publish(Event{Type: EventRetrying, JobID: job.ID, AttemptsMade: job.AttemptsMade, Reason: reason, At: q.now()})
	return true, nil
}

// Get returns a live job by id, or repository.ErrNotFound
func (q *Queue) Get(ctx context.Context, id string) (*models.Job, error) {
	return q.repo.GetJobByID(ctx, id)
}

// Exhausted lists jobs that failed terminally and await dead-lettering
func (q *Queue) Exhausted(ctx context.Context) ([]*models.Job, error) {
	return q.repo.ListJobsByState(ctx, models.JobExhausted)
}

// Stats returns job counts per state
func (q *Queue) Stats(ctx context.Context) (*models.QueueStats, error) {
	return q.repo.GetQueueStats(ctx)
}

// Backlog returns how many jobs of accountID are waiting, delayed or running
func (q *Queue) Backlog(ctx context.Context, accountID string) (int, error) {
	return q.repo.CountBacklog(ctx, accountID)
}

// Prune drops completed jobs beyond the newest keep
func (q *Queue) Prune(ctx context.Context, keep int) (int, error) {
	return q.repo.PruneCompletedJobs(ctx, keep)
}

// DeadLetter moves a job to the dead letter store and removes it from the live queue
func (q *Queue) DeadLetter(ctx context.Context, jobID, reason string) (*models.DeadLetterRecord, error) {
	return q.repo.MoveToDeadLetterQueue(ctx, jobID, reason)
}

// DeadLetters lists dead letter records
func (q *Queue) DeadLetters(ctx context.Context) ([]*models.DeadLetterRecord, error) {
	return q.repo.ListDeadLetters(ctx)
}

// GetDeadLetter returns a dead letter record by id, or repository.ErrNotFound
func (q *Queue) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterRecord, error) {
	return q.repo.GetDeadLetter(ctx, id)
}

// Replay enqueues a fresh job for a dead-lettered payload. The record itself is kept.
func (q *Queue) Replay(ctx context.Context, recordID string) (*models.Job, error) {
	record, err := q.repo.GetDeadLetter(ctx, recordID)
	if err != nil {
		return nil, err
	}

	job, err := q.Enqueue(ctx, record.Payload, models.EnqueueOptions{MaxAttempts: record.MaxAttempts})
	if err != nil {
		return nil, err
	}

	q.logger.Info("dead letter replayed", "record_id", record.ID, "job_id", job.ID, "original_job_id", record.JobID)
	return job, nil
}

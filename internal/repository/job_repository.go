package repository

import (
	"context"
	"doc-queue/internal/models"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a job, dead letter or document does not exist
	ErrNotFound = errors.New("not found")

	// ErrLeaseLost is returned when a job is no longer leased by the caller
	ErrLeaseLost = errors.New("job lease lost")
)

// JobRepository defines the interface for durable job persistence
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	ListJobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error)
	LeaseJob(ctx context.Context, leaseDuration time.Duration) (*models.Job, error)
	CompleteJob(ctx context.Context, job *models.Job) error
	RetryJob(ctx context.Context, job *models.Job, failureReason string, runAt time.Time) error
	ExhaustJob(ctx context.Context, job *models.Job, failureReason string) error
	PruneCompletedJobs(ctx context.Context, keep int) (int, error)
	CountBacklog(ctx context.Context, accountID string) (int, error)
	GetQueueStats(ctx context.Context) (*models.QueueStats, error)
}

// DeadLetterRepository defines the append-only dead letter store
type DeadLetterRepository interface {
	MoveToDeadLetterQueue(ctx context.Context, jobID, failureReason string) (*models.DeadLetterRecord, error)
	ListDeadLetters(ctx context.Context) ([]*models.DeadLetterRecord, error)
	GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterRecord, error)
}

package models

import (
	"math"
	"time"
)

// JobState represents the state of a job in the processing queue
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobExhausted JobState = "EXHAUSTED"
)

// BackoffType selects how the retry delay grows between attempts
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff is the retry delay policy attached to a job
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next returns the delay before the retry that follows the given failed attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Type == BackoffFixed {
		return b.Delay
	}
	factor := math.Pow(2, float64(attempt-1))
	return time.Duration(float64(b.Delay) * factor)
}

// ProcessingPayload is the job data produced at upload time
type ProcessingPayload struct {
	AccountID  string `json:"account_id,omitempty"`
	DocumentID string `json:"document_id"`
	StorageKey string `json:"storage_key"`
	Filename   string `json:"filename"`
}

// Job represents a unit of queued work referencing one document
type Job struct {
	ID             string            `json:"id"`
	Payload        ProcessingPayload `json:"payload"`
	State          JobState          `json:"state"`
	Priority       int               `json:"priority"`
	AttemptsMade   int               `json:"attempts_made"`
	MaxAttempts    int               `json:"max_attempts"`
	Backoff        Backoff           `json:"backoff"`
	FailedReason   string            `json:"failed_reason,omitempty"`
	RunAt          time.Time         `json:"run_at"`
	LeasedAt       *time.Time        `json:"leased_at,omitempty"`
	LeaseExpiresAt *time.Time        `json:"lease_expires_at,omitempty"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Attempt returns the 1-based number of the attempt currently being executed.
func (j *Job) Attempt() int {
	return j.AttemptsMade + 1
}

// Exhausted reports whether the job has no retry budget left.
func (j *Job) Exhausted() bool {
	return j.State == JobExhausted || j.AttemptsMade >= j.MaxAttempts
}

// EnqueueOptions carries per-job queue options
type EnqueueOptions struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int
	Backoff     Backoff
}

// DefaultEnqueueOptions returns the producer defaults: 3 attempts,
// exponential backoff from 2s, 1s initial delay, priority 1.
func DefaultEnqueueOptions() EnqueueOptions {
	return EnqueueOptions{
		Priority:    1,
		Delay:       time.Second,
		MaxAttempts: 3,
		Backoff:     Backoff{Type: BackoffExponential, Delay: 2 * time.Second},
	}
}

// DeadLetterRecord is an append-only snapshot of a terminally failed job
type DeadLetterRecord struct {
	ID             string            `json:"id"`
	JobID          string            `json:"job_id"`
	Payload        ProcessingPayload `json:"payload"`
	FailureReason  string            `json:"failure_reason"`
	AttemptsMade   int               `json:"attempts_made"`
	MaxAttempts    int               `json:"max_attempts"`
	Priority       int               `json:"priority"`
	DeadLetteredAt time.Time         `json:"dead_lettered_at"`
}

// QueueStats is a point-in-time view of the live queue
type QueueStats struct {
	Pending     int `json:"pending"`
	Delayed     int `json:"delayed"`
	Running     int `json:"running"`
	Completed   int `json:"completed"`
	Exhausted   int `json:"exhausted"`
	DeadLetters int `json:"dead_letters"`
}

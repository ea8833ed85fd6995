package repository

import (
	"context"
	"database/sql"
	"doc-queue/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository implements JobRepository, DeadLetterRepository and
// DocumentRepository using SQLite
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db, now: time.Now}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping checks the database connection
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// initSchema initializes the database schema
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL DEFAULT '',
		document_id TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		filename TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'PENDING',
		priority INTEGER NOT NULL DEFAULT 1,
		attempts_made INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		backoff_type TEXT NOT NULL DEFAULT 'exponential',
		backoff_delay_ms INTEGER NOT NULL DEFAULT 2000,
		failed_reason TEXT,
		run_at INTEGER NOT NULL,
		leased_at INTEGER,
		lease_expires_at INTEGER,
		enqueued_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_state_run_at ON jobs(state, priority, run_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_document_id ON jobs(document_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_account_state ON jobs(account_id, state);
	CREATE INDEX IF NOT EXISTS idx_jobs_lease_expires ON jobs(lease_expires_at);

	CREATE TABLE IF NOT EXISTS dead_letter_jobs (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		failure_reason TEXT NOT NULL,
		attempts_made INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		priority INTEGER NOT NULL DEFAULT 1,
		dead_lettered_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dlq_document_id ON dead_letter_jobs(document_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		original_name TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'uploaded',
		uploaded_at INTEGER NOT NULL,
		processed_at INTEGER,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		processing_time_ms INTEGER,
		ocr_result TEXT,
		extracted_metadata TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at);
	CREATE INDEX IF NOT EXISTS idx_documents_storage_key ON documents(storage_key);
	`

	_, err := r.db.Exec(schema)
	return err
}

const jobColumns = `id, account_id, document_id, storage_key, filename, state, priority, attempts_made, max_attempts,
	backoff_type, backoff_delay_ms, failed_reason, run_at, leased_at, lease_expires_at, enqueued_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var backoffType string
	var backoffDelayMs, runAt, enqueuedAt, updatedAt int64
	var failedReason sql.NullString
	var leasedAt, leaseExpiresAt sql.NullInt64

	err := row.Scan(
		&job.ID,
		&job.Payload.AccountID,
		&job.Payload.DocumentID,
		&job.Payload.StorageKey,
		&job.Payload.Filename,
		&job.State,
		&job.Priority,
		&job.AttemptsMade,
		&job.MaxAttempts,
		&backoffType,
		&backoffDelayMs,
		&failedReason,
		&runAt,
		&leasedAt,
		&leaseExpiresAt,
		&enqueuedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Backoff = models.Backoff{Type: models.BackoffType(backoffType), Delay: time.Duration(backoffDelayMs) * time.Millisecond}
	job.FailedReason = failedReason.String
	job.RunAt = millisToTime(runAt)
	job.EnqueuedAt = millisToTime(enqueuedAt)
	job.UpdatedAt = millisToTime(updatedAt)

	if leasedAt.Valid {
		t := millisToTime(leasedAt.Int64)
		job.LeasedAt = &t
	}

	if leaseExpiresAt.Valid {
		t := millisToTime(leaseExpiresAt.Int64)
		job.LeaseExpiresAt = &t
	}

	return &job, nil
}

// CreateJob creates a new job
func (r *SQLiteRepository) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, account_id, document_id, storage_key, filename, state, priority, attempts_made, max_attempts,
		                  backoff_type, backoff_delay_ms, run_at, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := r.now()
	job.EnqueuedAt = now
	job.UpdatedAt = now
	if job.RunAt.IsZero() {
		job.RunAt = now
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Payload.AccountID,
		job.Payload.DocumentID,
		job.Payload.StorageKey,
		job.Payload.Filename,
		job.State,
		job.Priority,
		job.AttemptsMade,
		job.MaxAttempts,
		string(job.Backoff.Type),
		job.Backoff.Delay.Milliseconds(),
		job.RunAt.UnixMilli(),
		job.EnqueuedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (r *SQLiteRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobsByState retrieves all jobs in a specific state
func (r *SQLiteRepository) ListJobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state = ? ORDER BY enqueued_at ASC`

	rows, err := r.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}

// StalledReason is recorded on a job whose lease expired on its final attempt
const StalledReason = "lease expired"

// LeaseJob leases the next runnable job for processing using a transaction.
// A RUNNING job whose lease has expired was abandoned by a stalled consumer; the
// stalled delivery is charged as an attempt, and a job with no attempts left is
// exhausted instead of being leased again.
func (r *SQLiteRepository) LeaseJob(ctx context.Context, leaseDuration time.Duration) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now()
	nowMs := now.UnixMilli()
	expiresAt := now.Add(leaseDuration)

	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE (state = 'PENDING' AND run_at <= ?) OR (state = 'RUNNING' AND lease_expires_at < ?)
		ORDER BY priority ASC, run_at ASC, enqueued_at ASC
		LIMIT 1
	`

	var job *models.Job
	for {
		job, err = scanJob(tx.QueryRowContext(ctx, query, nowMs, nowMs))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Commit any stalled jobs exhausted on the way
				if err := tx.Commit(); err != nil {
					return nil, fmt.Errorf("failed to commit transaction: %w", err)
				}
				return nil, nil
			}
			return nil, fmt.Errorf("failed to find leasable job: %w", err)
		}

		if job.State != models.JobRunning {
			break
		}

		job.AttemptsMade++
		job.FailedReason = StalledReason
		if job.AttemptsMade < job.MaxAttempts {
			break
		}

		exhaustQuery := `
			UPDATE jobs
			SET state = 'EXHAUSTED',
			    attempts_made = ?,
			    failed_reason = ?,
			    leased_at = NULL,
			    lease_expires_at = NULL,
			    updated_at = ?
			WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, exhaustQuery, job.AttemptsMade, StalledReason, nowMs, job.ID); err != nil {
			return nil, fmt.Errorf("failed to exhaust stalled job: %w", err)
		}
	}

	updateQuery := `
		UPDATE jobs
		SET state = 'RUNNING',
		    attempts_made = ?,
		    failed_reason = ?,
		    leased_at = ?,
		    lease_expires_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	_, err = tx.ExecContext(ctx, updateQuery, job.AttemptsMade, job.FailedReason, nowMs, expiresAt.UnixMilli(), nowMs, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update job lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	leasedAt := millisToTime(nowMs)
	leaseExpiresAt := millisToTime(expiresAt.UnixMilli())
	job.State = models.JobRunning
	job.LeasedAt = &leasedAt
	job.LeaseExpiresAt = &leaseExpiresAt
	job.UpdatedAt = leasedAt

	return job, nil
}

// releaseLease applies an update to a job only while the caller still holds its lease
func (r *SQLiteRepository) releaseLease(ctx context.Context, job *models.Job, set string, args ...interface{}) error {
	if job.LeasedAt == nil {
		return ErrLeaseLost
	}

	query := `UPDATE jobs SET ` + set + `, leased_at = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'RUNNING' AND leased_at = ?`

	args = append(args, r.now().UnixMilli(), job.ID, job.LeasedAt.UnixMilli())
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}

	return nil
}

// CompleteJob marks a leased job as completed
func (r *SQLiteRepository) CompleteJob(ctx context.Context, job *models.Job) error {
	if err := r.releaseLease(ctx, job, "state = 'COMPLETED'"); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// RetryJob records a failed attempt and schedules the job to run again at runAt
func (r *SQLiteRepository) RetryJob(ctx context.Context, job *models.Job, failureReason string, runAt time.Time) error {
	err := r.releaseLease(ctx, job, "state = 'PENDING', attempts_made = ?, failed_reason = ?, run_at = ?",
		job.AttemptsMade, failureReason, runAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}

// ExhaustJob records the final failed attempt; the job will not be leased again
func (r *SQLiteRepository) ExhaustJob(ctx context.Context, job *models.Job, failureReason string) error {
	err := r.releaseLease(ctx, job, "state = 'EXHAUSTED', attempts_made = ?, failed_reason = ?",
		job.AttemptsMade, failureReason)
	if err != nil {
		return fmt.Errorf("failed to exhaust job: %w", err)
	}
	return nil
}

// CountBacklog counts the jobs of one account that have not finished: waiting,
// delayed or running
func (r *SQLiteRepository) CountBacklog(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE account_id = ? AND state IN ('PENDING', 'RUNNING')`,
		accountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count backlog: %w", err)
	}
	return n, nil
}

// PruneCompletedJobs deletes completed jobs beyond the newest keep entries
func (r *SQLiteRepository) PruneCompletedJobs(ctx context.Context, keep int) (int, error) {
	query := `
		DELETE FROM jobs
		WHERE state = 'COMPLETED' AND id NOT IN (
			SELECT id FROM jobs WHERE state = 'COMPLETED' ORDER BY updated_at DESC LIMIT ?
		)
	`

	res, err := r.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune completed jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune completed jobs: %w", err)
	}

	return int(n), nil
}

// GetQueueStats returns the count of jobs per state plus the dead letter count
func (r *SQLiteRepository) GetQueueStats(ctx context.Context) (*models.QueueStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN state = 'PENDING' AND run_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'PENDING' AND run_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'RUNNING' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'COMPLETED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'EXHAUSTED' THEN 1 ELSE 0 END), 0)
		FROM jobs
	`

	nowMs := r.now().UnixMilli()
	var stats models.QueueStats
	err := r.db.QueryRowContext(ctx, query, nowMs, nowMs).Scan(
		&stats.Pending,
		&stats.Delayed,
		&stats.Running,
		&stats.Completed,
		&stats.Exhausted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letter_jobs").Scan(&stats.DeadLetters)
	if err != nil {
		return nil, fmt.Errorf("failed to count DLQ jobs: %w", err)
	}

	return &stats, nil
}

// MoveToDeadLetterQueue copies a job into the dead letter queue and removes it from the live queue
func (r *SQLiteRepository) MoveToDeadLetterQueue(ctx context.Context, jobID, failureReason string) (*models.DeadLetterRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	now := r.now()
	record := &models.DeadLetterRecord{
		ID:             fmt.Sprintf("dlq_%s_%d", job.ID, now.UnixMilli()),
		JobID:          job.ID,
		Payload:        job.Payload,
		FailureReason:  failureReason,
		AttemptsMade:   job.AttemptsMade,
		MaxAttempts:    job.MaxAttempts,
		Priority:       1,
		DeadLetteredAt: millisToTime(now.UnixMilli()),
	}

	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	insertQuery := `
		INSERT INTO dead_letter_jobs (id, job_id, document_id, payload, failure_reason, attempts_made, max_attempts, priority, dead_lettered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, insertQuery,
		record.ID,
		record.JobID,
		record.Payload.DocumentID,
		string(payload),
		record.FailureReason,
		record.AttemptsMade,
		record.MaxAttempts,
		record.Priority,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into dead letter queue: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return record, nil
}

const deadLetterColumns = `id, job_id, payload, failure_reason, attempts_made, max_attempts, priority, dead_lettered_at`

func scanDeadLetter(row rowScanner) (*models.DeadLetterRecord, error) {
	var record models.DeadLetterRecord
	var payload string
	var deadLetteredAt int64

	err := row.Scan(
		&record.ID,
		&record.JobID,
		&payload,
		&record.FailureReason,
		&record.AttemptsMade,
		&record.MaxAttempts,
		&record.Priority,
		&deadLetteredAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &record.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	record.DeadLetteredAt = millisToTime(deadLetteredAt)

	return &record, nil
}

// ListDeadLetters retrieves all dead letter records, highest priority and newest first
func (r *SQLiteRepository) ListDeadLetters(ctx context.Context) ([]*models.DeadLetterRecord, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_jobs ORDER BY priority ASC, dead_lettered_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter jobs: %w", err)
	}
	defer rows.Close()

	var records []*models.DeadLetterRecord
	for rows.Next() {
		record, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter job: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter jobs: %w", err)
	}

	return records, nil
}

// GetDeadLetter retrieves a dead letter record by ID
func (r *SQLiteRepository) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterRecord, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_jobs WHERE id = ?`

	record, err := scanDeadLetter(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter job: %w", err)
	}

	return record, nil
}

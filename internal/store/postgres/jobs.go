package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/store"
)

const (
	defaultJobLimit = 128
	maxJobLimit     = 1024
)

const (
	jobInsertSQL = `
INSERT INTO delivery_jobs (
    name,
    payload,
    attempts,
    max_attempts,
    available_at,
    delivered,
    created_at
)
VALUES ($1, COALESCE($2::jsonb, '{}'::jsonb), 0, $3, $4, FALSE, NOW())
RETURNING
    id,
    name,
    payload,
    attempts,
    max_attempts,
    last_error,
    available_at,
    delivered,
    created_at;
`

	jobListPendingSQL = `
SELECT
    id,
    name,
    payload,
    attempts,
    max_attempts,
    last_error,
    available_at,
    delivered,
    created_at
FROM delivery_jobs
WHERE delivered = FALSE
  AND available_at <= NOW()
  AND (max_attempts <= 0 OR attempts < max_attempts)
ORDER BY available_at ASC
LIMIT $1;
`

	jobMarkDoneSQL = `
UPDATE delivery_jobs
SET delivered = TRUE,
    attempts = attempts + 1
WHERE id = $1;
`

	jobMarkFailedSQL = `
UPDATE delivery_jobs
SET attempts = attempts + 1,
    last_error = $2,
    available_at = $3
WHERE id = $1;
`
)

// EnqueueJob inserts a durable job row.
func (s *Store) EnqueueJob(ctx context.Context, name string, payload []byte, maxAttempts int, availableAt time.Time) (store.Job, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return store.Job{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Job{}, errs.New("store", errs.CodeInvalid, errs.WithMessage("job name required"))
	}
	if availableAt.IsZero() {
		availableAt = time.Now()
	}
	row := pool.QueryRow(ctx, jobInsertSQL, name, payload, maxAttempts, availableAt.UTC())
	return scanJob(row)
}

// PendingJobs returns undelivered jobs ready for dispatch, oldest first.
func (s *Store) PendingJobs(ctx context.Context, limit int) ([]store.Job, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, jobListPendingSQL, clampLimit(limit, defaultJobLimit, maxJobLimit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate pending jobs: %w", err)
	}
	return jobs, nil
}

// MarkJobDone flags a job as delivered.
func (s *Store) MarkJobDone(ctx context.Context, id int64) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, jobMarkDoneSQL, id)
	if err != nil {
		return fmt.Errorf("postgres: mark job done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("store", errs.CodeNotFound, errs.WithMessage("job not found"))
	}
	return nil
}

// MarkJobFailed records a failed attempt and schedules the retry.
func (s *Store) MarkJobFailed(ctx context.Context, id int64, lastError string, retryAt time.Time) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, jobMarkFailedSQL, id, strings.TrimSpace(lastError), retryAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("store", errs.CodeNotFound, errs.WithMessage("job not found"))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (store.Job, error) {
	var (
		job       store.Job
		lastError pgtype.Text
	)
	if err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Payload,
		&job.Attempts,
		&job.MaxAttempts,
		&lastError,
		&job.AvailableAt,
		&job.Delivered,
		&job.CreatedAt,
	); err != nil {
		return store.Job{}, fmt.Errorf("postgres: scan job: %w", err)
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}
	return job, nil
}

package jobqueue

import (
	"context"
	"database/sql"
	"fmt"

	"encore.dev/storage/sqldb"
)

// SQLStore persists jobs in Postgres via Encore's managed database,
// surviving process restarts; the schema and query shape follow the
// invalidation service's own append-and-scan audit table.
type SQLStore struct {
	db *sqldb.Database
}

func NewSQLStore(db *sqldb.Database) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize job queue schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS jobqueue_jobs (
			id TEXT PRIMARY KEY,
			band TEXT NOT NULL,
			payload BYTEA,
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL,
			status TEXT NOT NULL,
			last_error TEXT,
			enqueued_at TIMESTAMPTZ NOT NULL,
			next_attempt TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_jobqueue_jobs_status ON jobqueue_jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobqueue_jobs_band ON jobqueue_jobs(band);
	`
	_, err := s.db.Exec(ctx, query)
	return err
}

func (s *SQLStore) Save(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO jobqueue_jobs (id, band, payload, attempts, max_attempts, status, last_error, enqueued_at, next_attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			next_attempt = EXCLUDED.next_attempt
	`
	var nextAttempt interface{}
	if !job.NextAttempt.IsZero() {
		nextAttempt = job.NextAttempt
	}
	_, err := s.db.Exec(ctx, query, job.ID, job.Band, job.Payload, job.Attempts, job.MaxAttempts, job.Status, job.LastError, job.EnqueuedAt, nextAttempt)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadPending(ctx context.Context) ([]*Job, error) {
	query := `
		SELECT id, band, payload, attempts, max_attempts, status, last_error, enqueued_at, next_attempt
		FROM jobqueue_jobs
		WHERE status IN ('pending', 'running')
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		var nextAttempt sql.NullTime
		var lastError sql.NullString
		if err := rows.Scan(&job.ID, &job.Band, &job.Payload, &job.Attempts, &job.MaxAttempts, &job.Status, &lastError, &job.EnqueuedAt, &nextAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job.LastError = lastError.String
		if nextAttempt.Valid {
			job.NextAttempt = nextAttempt.Time
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM jobqueue_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

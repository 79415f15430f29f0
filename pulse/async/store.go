package async

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/croplink/db"
	"github.com/teranos/croplink/errors"
)

// Store handles persistence of ingestion jobs and dead-letter entries.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// JobFilter narrows job listings. Zero values match everything.
type JobFilter struct {
	Status   JobStatus
	SourceID string
}

func (f JobFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.SourceID != "" {
		clauses = append(clauses, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CreateJob inserts job. A job for the same (path, content version token)
// already existing yields an error satisfying errors.IsConflictError; the
// check is the table's unique constraint, so racing inserts from any
// process resolve to exactly one row.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	meta, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ingestion_jobs (
			id, source_id, tenant_id, ingestion_mode, container, path,
			content_version_token, size, extracted_metadata, status,
			attempt_count, max_attempts, next_attempt_at, trace_id,
			observed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.SourceID,
		job.TenantID,
		job.Mode,
		job.Container,
		job.Path,
		job.ContentVersionToken,
		job.Size,
		meta,
		job.Status,
		job.AttemptCount,
		job.MaxAttempts,
		job.NextAttemptAt,
		job.TraceID,
		job.ObservedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Mark(errors.Wrapf(err, "job already exists for %s@%s", job.Path, job.ContentVersionToken), errors.ErrConflict)
		}
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM ingestion_jobs WHERE id = ?`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// GetJobByDelivery retrieves the job holding an idempotency key.
func (s *Store) GetJobByDelivery(ctx context.Context, path, token string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM ingestion_jobs WHERE path = ? AND content_version_token = ?`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, path, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("no job for delivery %s@%s", path, token)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job by delivery")
	}
	return job, nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter, offset, limit int) ([]*Job, error) {
	where, args := filter.where()
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM ingestion_jobs` + where +
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// CountJobs counts jobs matching filter.
func (s *Store) CountJobs(ctx context.Context, filter JobFilter) (int, error) {
	where, args := filter.where()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingestion_jobs`+where, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count jobs")
	}
	return n, nil
}

// CountByStatus returns the number of jobs in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM ingestion_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	counts := map[JobStatus]int{
		JobStatusQueued:     0,
		JobStatusProcessing: 0,
		JobStatusCompleted:  0,
		JobStatusFailed:     0,
	}
	for rows.Next() {
		var (
			status JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	return counts, errors.Wrap(rows.Err(), "error iterating job counts")
}

// ClaimNext atomically moves the oldest due queued job to processing and
// increments its attempt count. Returns nil when nothing is due. A single
// UPDATE ... RETURNING means two workers can never claim the same job.
func (s *Store) ClaimNext(ctx context.Context, now time.Time) (*Job, error) {
	now = now.UTC()
	query := `
		UPDATE ingestion_jobs
		SET status = 'processing',
		    attempt_count = attempt_count + 1,
		    started_at = ?,
		    updated_at = ?
		WHERE id = (
			SELECT id FROM ingestion_jobs
			WHERE status = 'queued' AND next_attempt_at <= ?
			ORDER BY created_at, id
			LIMIT 1
		)
		RETURNING ` + StandardJobSelectColumns()

	job, err := scanJob(s.db.QueryRowContext(ctx, query, now, now, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim next job")
	}
	return job, nil
}

// transition updates a job the caller currently owns: status processing at
// the given attempt. A reaped and re-claimed job no longer matches, so a
// stale worker cannot overwrite the new owner's result.
func (s *Store) transition(ctx context.Context, exec execer, job *Job, set string, args ...any) error {
	query := `UPDATE ingestion_jobs SET ` + set + `
		WHERE id = ? AND status = 'processing' AND attempt_count = ?`
	args = append(args, job.ID, job.AttemptCount)

	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		err := errors.Newf("job %s is no longer owned by this attempt", job.ID)
		err = errors.WithDetail(err, fmt.Sprintf("Attempt: %d", job.AttemptCount))
		return errors.Mark(err, errors.ErrConflict)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MarkCompleted finishes a processing job.
func (s *Store) MarkCompleted(ctx context.Context, job *Job, now time.Time) error {
	now = now.UTC()
	documentID := sql.NullString{String: job.DocumentID, Valid: job.DocumentID != ""}
	return s.transition(ctx, s.db, job,
		`status = 'completed', document_id = ?, completed_at = ?, updated_at = ?,
		 last_error = NULL, last_error_type = NULL`,
		documentID, now, now)
}

// ScheduleRetry returns a processing job to the queue, due at next.
func (s *Store) ScheduleRetry(ctx context.Context, job *Job, errType, message string, next, now time.Time) error {
	return s.transition(ctx, s.db, job,
		`status = 'queued', last_error = ?, last_error_type = ?, next_attempt_at = ?, updated_at = ?`,
		message, errType, next.UTC(), now.UTC())
}

// Release returns a processing job to the queue without consuming the
// attempt, for work interrupted by shutdown.
func (s *Store) Release(ctx context.Context, job *Job, now time.Time) error {
	now = now.UTC()
	return s.transition(ctx, s.db, job,
		`status = 'queued', attempt_count = attempt_count - 1, next_attempt_at = ?, updated_at = ?`,
		now, now)
}

// ListStale returns processing jobs started before cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM ingestion_jobs
		WHERE status = 'processing' AND started_at < ?
		ORDER BY started_at
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale jobs")
	}
	defer rows.Close()
	return scanJobs(rows, "stale jobs")
}

// Requeue returns an abandoned processing job to the queue, keeping its
// attempt count.
func (s *Store) Requeue(ctx context.Context, job *Job, reason string, now time.Time) error {
	now = now.UTC()
	return s.transition(ctx, s.db, job,
		`status = 'queued', last_error = ?, last_error_type = ?, next_attempt_at = ?, updated_at = ?`,
		reason, ErrorCodeProcessingTimeout, now, now)
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return jobs, nil
}

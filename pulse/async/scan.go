package async

import (
	"database/sql"

	"github.com/teranos/croplink/errors"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// JobScanArgs holds the nullable columns of a job row.
type JobScanArgs struct {
	Metadata      string
	LastError     sql.NullString
	LastErrorType sql.NullString
	DocumentID    sql.NullString
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
}

// GetJobScanTargets returns scan destinations in StandardJobSelectColumns order.
func GetJobScanTargets(job *Job, args *JobScanArgs) []any {
	return []any{
		&job.ID,
		&job.SourceID,
		&job.TenantID,
		&job.Mode,
		&job.Container,
		&job.Path,
		&job.ContentVersionToken,
		&job.Size,
		&args.Metadata,
		&job.Status,
		&job.AttemptCount,
		&job.MaxAttempts,
		&args.LastError,
		&args.LastErrorType,
		&job.NextAttemptAt,
		&job.TraceID,
		&args.DocumentID,
		&job.ObservedAt,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the scanned nullable columns onto job.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	meta, err := unmarshalMetadata(args.Metadata)
	if err != nil {
		return errors.Wrapf(err, "job %s", job.ID)
	}
	job.Metadata = meta
	job.LastError = args.LastError.String
	job.LastErrorType = args.LastErrorType.String
	job.DocumentID = args.DocumentID.String
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
	return nil
}

// scanJob scans a single job from a row or rows cursor.
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	args := &JobScanArgs{}
	if err := row.Scan(GetJobScanTargets(&job, args)...); err != nil {
		return nil, err
	}
	if err := ProcessJobScanArgs(&job, args); err != nil {
		return nil, err
	}
	return &job, nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, source_id, tenant_id, ingestion_mode, container, path,
		content_version_token, size, extracted_metadata, status,
		attempt_count, max_attempts, last_error, last_error_type,
		next_attempt_at, trace_id, document_id,
		observed_at, created_at, started_at, completed_at, updated_at`
}

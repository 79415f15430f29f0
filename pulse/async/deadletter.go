package async

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teranos/croplink/errors"
)

// DeadLetterEntry is the terminal record of a job whose retry budget ran out
// or whose failure was terminal. It carries the field-level context of the
// last failure.
type DeadLetterEntry struct {
	IngestionID  string    `json:"ingestion_id"`
	SourceID     string    `json:"source_id"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	FieldName    string    `json:"field_name,omitempty"`
	FieldValue   string    `json:"field_value,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	LastErrorAt  time.Time `json:"last_error_at"`
	CreatedAt    time.Time `json:"created_at"`
}

const deadLetterColumns = `ingestion_id, source_id, error_type, error_message,
	field_name, field_value, attempt_count, last_error_at, created_at`

func scanDeadLetter(row rowScanner) (*DeadLetterEntry, error) {
	var e DeadLetterEntry
	err := row.Scan(&e.IngestionID, &e.SourceID, &e.ErrorType, &e.ErrorMessage,
		&e.FieldName, &e.FieldValue, &e.AttemptCount, &e.LastErrorAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeadLetter marks a processing job failed and writes its entry in one
// transaction, so a failed job always has exactly one entry.
func (s *Store) DeadLetter(ctx context.Context, job *Job, entry *DeadLetterEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin dead-letter transaction")
	}
	defer tx.Rollback()

	now := entry.CreatedAt.UTC()
	err = s.transition(ctx, tx, job,
		`status = 'failed', last_error = ?, last_error_type = ?, completed_at = ?, updated_at = ?`,
		entry.ErrorMessage, entry.ErrorType, now, now)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO dead_letters (`+deadLetterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.IngestionID, entry.SourceID, entry.ErrorType, entry.ErrorMessage,
		entry.FieldName, entry.FieldValue, entry.AttemptCount,
		entry.LastErrorAt.UTC(), now)
	if err != nil {
		err = errors.Wrap(err, "failed to insert dead-letter entry")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}

	return errors.Wrap(tx.Commit(), "failed to commit dead-letter transaction")
}

// GetDeadLetter retrieves the entry for an ingestion id.
func (s *Store) GetDeadLetter(ctx context.Context, ingestionID string) (*DeadLetterEntry, error) {
	e, err := scanDeadLetter(s.db.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE ingestion_id = ?`, ingestionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("dead-letter entry not found: %s", ingestionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get dead-letter entry")
	}
	return e, nil
}

// ListDeadLetters returns entries newest first.
func (s *Store) ListDeadLetters(ctx context.Context, sourceID string, offset, limit int) ([]*DeadLetterEntry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	var args []any
	if sourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY created_at DESC, ingestion_id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list dead-letter entries")
	}
	defer rows.Close()

	var out []*DeadLetterEntry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan dead-letter entry")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "error iterating dead-letter entries")
}

// CountDeadLetters counts entries, optionally for one source.
func (s *Store) CountDeadLetters(ctx context.Context, sourceID string) (int, error) {
	query := `SELECT COUNT(*) FROM dead_letters`
	var args []any
	if sourceID != "" {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count dead-letter entries")
	}
	return n, nil
}

// Replay re-queues a dead-lettered job with a fresh attempt budget and
// removes its entry. Only failed jobs with an entry can be replayed.
func (s *Store) Replay(ctx context.Context, ingestionID string, now time.Time) (*Job, error) {
	now = now.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin replay transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE ingestion_id = ?`, ingestionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to delete dead-letter entry")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.NewNotFoundError("dead-letter entry not found: %s", ingestionID)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET status = 'queued', attempt_count = 0, next_attempt_at = ?,
		    started_at = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed'`,
		now, now, ingestionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-queue job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err := errors.Newf("job %s is not in failed state", ingestionID)
		return nil, errors.Mark(err, errors.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit replay")
	}
	return s.GetJob(ctx, ingestionID)
}

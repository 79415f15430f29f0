// Package async is the durable ingestion queue: jobs admitted by the
// idempotency gate, a worker pool draining them, the retry router that
// re-queues or dead-letters failures, and the reaper that recovers jobs
// abandoned by crashed workers.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/croplink/errors"
)

// JobStatus is the state of an ingestion job.
//
//	queued -> processing -> completed
//	                     -> queued (retry, after backoff)
//	                     -> failed (dead-lettered)
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition happens without an
// operator replay.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Delivery identifies one physical artifact delivery and the source it
// matched.
type Delivery struct {
	SourceID            string
	TenantID            string
	Mode                string
	Container           string
	Path                string
	ContentVersionToken string
	Size                int64
	ObservedAt          time.Time
	Metadata            map[string]string
}

// Job is one admitted delivery. (Path, ContentVersionToken) is unique
// across all jobs ever created.
type Job struct {
	ID                  string            `json:"id"`
	SourceID            string            `json:"source_id"`
	TenantID            string            `json:"tenant_id,omitempty"`
	Mode                string            `json:"ingestion_mode"`
	Container           string            `json:"container"`
	Path                string            `json:"path"`
	ContentVersionToken string            `json:"content_version_token"`
	Size                int64             `json:"size"`
	Metadata            map[string]string `json:"extracted_metadata"`
	Status              JobStatus         `json:"status"`
	AttemptCount        int               `json:"attempt_count"`
	MaxAttempts         int               `json:"max_attempts"`
	LastError           string            `json:"last_error,omitempty"`
	LastErrorType       string            `json:"last_error_type,omitempty"`
	NextAttemptAt       time.Time         `json:"next_attempt_at"`
	TraceID             string            `json:"trace_id"`
	DocumentID          string            `json:"document_id,omitempty"`
	ObservedAt          time.Time         `json:"observed_at"`
	CreatedAt           time.Time         `json:"created_at"`
	StartedAt           *time.Time        `json:"started_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// NewJob creates a queued job for d, due immediately.
func NewJob(d Delivery, maxAttempts int, now time.Time) (*Job, error) {
	if d.SourceID == "" {
		return nil, errors.New("source id cannot be empty")
	}
	if d.Path == "" || d.ContentVersionToken == "" {
		return nil, errors.Newf("delivery for source %s needs both path and content version token", d.SourceID)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now = now.UTC()
	observed := d.ObservedAt.UTC()
	if d.ObservedAt.IsZero() {
		observed = now
	}
	meta := d.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	return &Job{
		ID:                  uuid.NewString(),
		SourceID:            d.SourceID,
		TenantID:            d.TenantID,
		Mode:                d.Mode,
		Container:           d.Container,
		Path:                d.Path,
		ContentVersionToken: d.ContentVersionToken,
		Size:                d.Size,
		Metadata:            meta,
		Status:              JobStatusQueued,
		MaxAttempts:         maxAttempts,
		NextAttemptAt:       now,
		TraceID:             uuid.NewString(),
		ObservedAt:          observed,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// AttemptsExhausted reports whether the job has used its retry budget.
func (j *Job) AttemptsExhausted() bool {
	return j.AttemptCount >= j.MaxAttempts
}

// ShortID returns the first 8 characters of the id for log lines.
func (j *Job) ShortID() string {
	if len(j.ID) > 8 {
		return j.ID[:8]
	}
	return j.ID
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal extracted metadata")
	}
	return string(data), nil
}

func unmarshalMetadata(s string) (map[string]string, error) {
	m := map[string]string{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal extracted metadata")
	}
	return m, nil
}

package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/croplink/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue is the durable ingestion queue. Jobs are ordered by creation time
// and dequeued at least once: a claimed job stays processing until its
// worker acknowledges it or the reaper recovers it.
type Queue struct {
	store *Store
	now   func() time.Time

	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a queue with real time
func NewQueue(db *sql.DB) *Queue {
	return NewQueueWithClock(db, time.Now)
}

// NewQueueWithClock creates a queue with an injectable clock (for testing)
func NewQueueWithClock(db *sql.DB, now func() time.Time) *Queue {
	return &Queue{store: NewStore(db), now: now}
}

// Store returns the underlying store for read-only listings.
func (q *Queue) Store() *Store { return q.store }

// Now returns the queue clock.
func (q *Queue) Now() time.Time { return q.now().UTC() }

// Admit inserts job unless a job with the same (path, content version
// token) exists, in which case the existing job is returned with
// created=false and nothing new is queued.
func (q *Queue) Admit(ctx context.Context, job *Job) (*Job, bool, error) {
	err := q.store.CreateJob(ctx, job)
	if err == nil {
		q.notifySubscribers(job)
		return job, true, nil
	}
	if !errors.IsConflictError(err) {
		err = errors.Wrap(err, "failed to admit job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.SourceID))
		err = errors.WithDetail(err, fmt.Sprintf("Path: %s", job.Path))
		return nil, false, err
	}

	existing, err := q.store.GetJobByDelivery(ctx, job.Path, job.ContentVersionToken)
	if err != nil {
		err = errors.Wrap(err, "failed to load existing job for duplicate delivery")
		err = errors.WithDetail(err, fmt.Sprintf("Path: %s", job.Path))
		err = errors.WithDetail(err, fmt.Sprintf("Token: %s", job.ContentVersionToken))
		return nil, false, err
	}
	return existing, false, nil
}

// Dequeue claims the next due job, or returns nil when none is due.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	job, err := q.store.ClaimNext(ctx, q.Now())
	if err != nil {
		return nil, errors.Wrap(err, "failed to dequeue job")
	}
	if job != nil {
		q.notifySubscribers(job)
	}
	return job, nil
}

// Complete acknowledges a processed job.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	now := q.Now()
	if err := q.store.MarkCompleted(ctx, job, now); err != nil {
		err = errors.Wrap(err, "failed to complete job")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now
	q.notifySubscribers(job)
	return nil
}

// Retry re-queues a failed attempt, due at next.
func (q *Queue) Retry(ctx context.Context, job *Job, ec ErrorContext, next time.Time) error {
	now := q.Now()
	if err := q.store.ScheduleRetry(ctx, job, string(ec.Code), ec.Message, next, now); err != nil {
		err = errors.Wrap(err, "failed to schedule retry")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return errors.WithDetail(err, fmt.Sprintf("Attempt: %d/%d", job.AttemptCount, job.MaxAttempts))
	}
	job.Status = JobStatusQueued
	job.LastError = ec.Message
	job.LastErrorType = string(ec.Code)
	job.NextAttemptAt = next.UTC()
	job.UpdatedAt = now
	q.notifySubscribers(job)
	return nil
}

// DeadLetter fails a job and records its entry.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, ec ErrorContext) (*DeadLetterEntry, error) {
	now := q.Now()
	entry := &DeadLetterEntry{
		IngestionID:  job.ID,
		SourceID:     job.SourceID,
		ErrorType:    string(ec.Code),
		ErrorMessage: ec.Message,
		FieldName:    ec.FieldName,
		FieldValue:   ec.FieldValue,
		AttemptCount: job.AttemptCount,
		LastErrorAt:  now,
		CreatedAt:    now,
	}
	if err := q.store.DeadLetter(ctx, job, entry); err != nil {
		err = errors.Wrap(err, "failed to dead-letter job")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}
	job.Status = JobStatusFailed
	job.LastError = ec.Message
	job.LastErrorType = string(ec.Code)
	job.CompletedAt = &now
	job.UpdatedAt = now
	q.notifySubscribers(job)
	return entry, nil
}

// Release hands an interrupted job back without consuming its attempt.
func (q *Queue) Release(ctx context.Context, job *Job) error {
	if err := q.store.Release(ctx, job, q.Now()); err != nil {
		err = errors.Wrap(err, "failed to release job")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}
	job.Status = JobStatusQueued
	job.AttemptCount--
	q.notifySubscribers(job)
	return nil
}

// Requeue returns an abandoned processing job to the queue.
func (q *Queue) Requeue(ctx context.Context, job *Job, reason string) error {
	if err := q.store.Requeue(ctx, job, reason, q.Now()); err != nil {
		err = errors.Wrap(err, "failed to requeue job")
		return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	}
	job.Status = JobStatusQueued
	q.notifySubscribers(job)
	return nil
}

// Replay re-queues a dead-lettered job.
func (q *Queue) Replay(ctx context.Context, ingestionID string) (*Job, error) {
	job, err := q.store.Replay(ctx, ingestionID, q.Now())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to replay job %s", ingestionID)
	}
	q.notifySubscribers(job)
	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// Stats returns job counts per status.
func (q *Queue) Stats(ctx context.Context) (map[JobStatus]int, error) {
	return q.store.CountByStatus(ctx)
}

// Subscribe returns a channel receiving every job state change. Slow
// subscribers miss updates rather than block the queue.
func (q *Queue) Subscribe() <-chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscription.
func (q *Queue) Unsubscribe(ch <-chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			close(sub)
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

func (q *Queue) notifySubscribers(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.subscribers) == 0 {
		return
	}
	snapshot := *job
	for _, ch := range q.subscribers {
		select {
		case ch <- &snapshot:
		default:
			// Subscriber full, skip
		}
	}
}

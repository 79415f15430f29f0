package async

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/metrics"
)

// RetryPolicy bounds retries. Attempt n (1-based) that fails is retried
// after min(BackoffBase * 2^(n-1), BackoffMax).
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultRetryPolicy returns the default attempt ceiling and backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 10 * time.Second,
		BackoffMax:  15 * time.Minute,
	}
}

// Backoff returns the delay before retrying after the given failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// RetryRouter decides what happens to a failed attempt: back to the queue
// after backoff, or to the dead-letter store.
type RetryRouter struct {
	queue   *Queue
	policy  RetryPolicy
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

// NewRetryRouter creates a router over queue.
func NewRetryRouter(queue *Queue, policy RetryPolicy, m *metrics.Metrics, log *zap.SugaredLogger) *RetryRouter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RetryRouter{
		queue:   queue,
		policy:  policy,
		metrics: m,
		log:     logger.AddPulseSymbol(log),
	}
}

// Exhausted reports whether job has no attempts left. The ceiling is the
// job's own MaxAttempts, lowered by the policy's when that is positive.
func (p RetryPolicy) Exhausted(job *Job) bool {
	if p.MaxAttempts > 0 && job.AttemptCount >= p.MaxAttempts {
		return true
	}
	return job.AttemptsExhausted()
}

// Policy returns the router's retry policy.
func (r *RetryRouter) Policy() RetryPolicy { return r.policy }

// Route records a failed attempt of job and returns the outcome
// (metrics.OutcomeRetried or metrics.OutcomeDeadLettered).
func (r *RetryRouter) Route(ctx context.Context, job *Job, cause error) (string, error) {
	ec := ClassifyError(cause)
	log := r.log.With(
		logger.FieldJobID, job.ID,
		logger.FieldSourceID, job.SourceID,
		logger.FieldTraceID, job.TraceID,
		logger.FieldAttempt, job.AttemptCount,
		logger.FieldMaxAttempts, job.MaxAttempts,
		logger.FieldErrorType, ec.Code,
	)

	if ec.Retryable && !r.policy.Exhausted(job) {
		next := r.queue.Now().Add(r.policy.Backoff(job.AttemptCount))
		if err := r.queue.Retry(ctx, job, ec, next); err != nil {
			return "", err
		}
		r.metrics.RecordRetry(job.SourceID, string(ec.Code))
		log.Infow("Retry scheduled", logger.FieldError, ec.Message, "next_attempt_at", next)
		return metrics.OutcomeRetried, nil
	}

	if _, err := r.DeadLetter(ctx, job, ec); err != nil {
		return "", err
	}
	return metrics.OutcomeDeadLettered, nil
}

// DeadLetter writes the entry for job and emits the dead-letter metric.
func (r *RetryRouter) DeadLetter(ctx context.Context, job *Job, ec ErrorContext) (*DeadLetterEntry, error) {
	entry, err := r.queue.DeadLetter(ctx, job, ec)
	if err != nil {
		return nil, err
	}
	r.metrics.RecordDeadLetter(job.SourceID, string(ec.Code))
	r.log.Warnw("Job dead-lettered",
		logger.FieldJobID, job.ID,
		logger.FieldSourceID, job.SourceID,
		logger.FieldAttempt, job.AttemptCount,
		logger.FieldErrorType, ec.Code,
		logger.FieldField, ec.FieldName,
		logger.FieldError, ec.Message,
		"terminal", !ec.Retryable,
	)
	return entry, nil
}

package async

import "context"

// JobHandler processes one claimed job end to end. A nil error completes
// the job; any error is routed by the RetryRouter. Handlers set
// job.DocumentID when processing produced or resolved a document.
//
// Context cancellation: handlers must return promptly when ctx is done; the
// pool then releases the job back to the queue without consuming an attempt.
type JobHandler interface {
	Execute(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to JobHandler.
type HandlerFunc func(ctx context.Context, job *Job) error

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

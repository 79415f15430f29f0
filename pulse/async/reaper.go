package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/croplink/logger"
)

// maxReapBatch caps how many stale jobs one sweep handles.
const maxReapBatch = 500

// Reaper recovers jobs left in processing by crashed workers. A job
// processing longer than the timeout goes back to the queue with its
// attempt count unchanged, or to the dead-letter store if that attempt was
// its last.
type Reaper struct {
	queue    *Queue
	router   *RetryRouter
	timeout  time.Duration
	interval time.Duration
	log      *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper sweeping every interval.
func NewReaper(queue *Queue, router *RetryRouter, timeout, interval time.Duration, log *zap.SugaredLogger) *Reaper {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reaper{
		queue:    queue,
		router:   router,
		timeout:  timeout,
		interval: interval,
		log:      logger.AddPulseSymbol(log.Named("reaper")),
	}
}

// Start sweeps once immediately, recovering jobs orphaned by a previous
// process, then every interval until Stop or ctx ends.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Errorw("Reaper sweep failed", logger.FieldError, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Sweep handles every job processing longer than the timeout and returns
// how many were recovered or dead-lettered.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.queue.Now().Add(-r.timeout)
	stale, err := r.queue.Store().ListStale(ctx, cutoff, maxReapBatch)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, job := range stale {
		reason := fmt.Sprintf("processing exceeded %s (attempt %d/%d)", r.timeout, job.AttemptCount, job.MaxAttempts)
		log := r.log.With(logger.FieldJobID, job.ID, logger.FieldSourceID, job.SourceID, logger.FieldAttempt, job.AttemptCount)

		if r.router.Policy().Exhausted(job) {
			_, err = r.router.DeadLetter(ctx, job, ErrorContext{
				Code:    ErrorCodeProcessingTimeout,
				Message: reason,
			})
		} else {
			err = r.queue.Requeue(ctx, job, reason)
			if err == nil {
				log.Warnw("Recovered abandoned job")
			}
		}
		if err != nil {
			// Another worker finishing the job first is not a failure
			log.Debugw("Skipped stale job", logger.FieldError, err)
			continue
		}
		handled++
	}
	return handled, nil
}

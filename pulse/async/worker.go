package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/metrics"
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event - uses DEBUG level for "STARTING" appearance
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(logger.SymPulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event - uses WARN level for "CLOSING" appearance
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(logger.SymPulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations - uses INFO level
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often idle workers check for due jobs
	// Workers skip dequeueing while host memory use is above this
	// percentage. Zero disables the check.
	MaxMemoryPercent float64 `json:"max_memory_percent"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:          4,
		PollInterval:     500 * time.Millisecond,
		MaxMemoryPercent: 90,
	}
}

// WorkerPool drains the queue with independent workers. Each claimed job is
// processed end to end by one worker; different jobs run in parallel.
type WorkerPool struct {
	queue         *Queue
	handler       JobHandler
	router        *RetryRouter
	metrics       *metrics.Metrics
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	activeWorkers int
	memStats      memoryStats
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a pool. Cancelling ctx stops the workers.
func NewWorkerPool(ctx context.Context, queue *Queue, handler JobHandler, router *RetryRouter, poolCfg WorkerPoolConfig, m *metrics.Metrics, log *zap.SugaredLogger) *WorkerPool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		queue:      queue,
		handler:    handler,
		router:     router,
		metrics:    m,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		memStats:   hostMemoryStats,
		logger:     pulseLogger{logger.AddPulseSymbol(log.Named("pulse"))},
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// Recreate the context after a previous Stop
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	ctx := wp.ctx
	wp.mu.Unlock()

	if pct, err := memoryPercent(wp.memStats); err == nil && wp.poolConfig.MaxMemoryPercent > 0 && pct > wp.poolConfig.MaxMemoryPercent {
		wp.logger.Warnw("Memory pressure at startup, workers will idle until it drops",
			"memory_percent", pct,
			"max_memory_percent", wp.poolConfig.MaxMemoryPercent,
			"workers", wp.workers)
	}

	wp.logger.Starting("Worker pool starting", "workers", wp.workers, "poll_interval", wp.poolConfig.PollInterval)
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Stop cancels the workers and waits up to 30 seconds for in-flight jobs
// to be released.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	wp.cancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.logger.Pulse(logger.SymPulseClose + " WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be running", "timeout", timeout)
	}
}

// worker polls the queue and drains every due job on each tick.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			processed, err := wp.processNextJob(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
					return
				}
				errorCount++
				wp.logger.Errorw("Worker error processing job",
					"worker_id", id,
					logger.FieldError, err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					wp.logger.Warnw("Worker backing off due to consecutive errors",
						"worker_id", id,
						"backoff", backoffDuration,
						"consecutive_errors", errorCount)
					select {
					case <-ctx.Done():
						return
					case <-time.After(backoffDuration):
					}
					backoffDuration = min(backoffDuration*2, maxBackoff)
				}
				break
			}

			if errorCount > 0 {
				wp.logger.Infow("Worker recovered from errors",
					"worker_id", id,
					"previous_error_count", errorCount)
			}
			errorCount = 0
			backoffDuration = time.Second

			if !processed || ctx.Err() != nil {
				break
			}
		}
	}
}

// processNextJob claims one job and runs it through the handler. Returns
// false when no job was due or memory pressure deferred the claim.
func (wp *WorkerPool) processNextJob(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	if wp.memoryPressured() {
		return false, nil
	}

	job, err := wp.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	wp.trackActive(1)
	defer wp.trackActive(-1)

	jobCtx := logger.WithJobID(ctx, job.ID)
	jobCtx = logger.WithTraceID(jobCtx, job.TraceID)
	jobCtx = logger.WithSourceID(jobCtx, job.SourceID)

	log := wp.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldSourceID, job.SourceID,
		logger.FieldAttempt, job.AttemptCount,
	)
	log.Debugw("Job claimed", logger.FieldPath, job.Path)

	start := time.Now()
	execErr := wp.handler.Execute(jobCtx, job)
	elapsed := time.Since(start)

	// Acknowledgements must land even if shutdown begins now
	ackCtx := context.WithoutCancel(ctx)

	if execErr == nil {
		if err := wp.queue.Complete(ackCtx, job); err != nil {
			return true, err
		}
		wp.metrics.ObserveJob(job.SourceID, metrics.OutcomeCompleted, elapsed)
		log.Infow("Job completed",
			logger.FieldDocumentID, job.DocumentID,
			logger.FieldDurationMS, elapsed.Milliseconds())
		return true, nil
	}

	// Shutdown interrupted the job: hand it back without spending the attempt
	if ctx.Err() != nil {
		wp.logger.Closing("Job interrupted by shutdown, releasing", logger.FieldJobID, job.ID)
		if err := wp.queue.Release(ackCtx, job); err != nil {
			wp.logger.Errorw("Failed to release interrupted job", logger.FieldJobID, job.ID, logger.FieldError, err)
		}
		return true, nil
	}

	outcome, err := wp.router.Route(ackCtx, job, execErr)
	if err != nil {
		return true, err
	}
	wp.metrics.ObserveJob(job.SourceID, outcome, elapsed)
	return true, nil
}

func (wp *WorkerPool) memoryPressured() bool {
	limit := wp.poolConfig.MaxMemoryPercent
	if limit <= 0 {
		return false
	}
	pct, err := memoryPercent(wp.memStats)
	if err != nil {
		return false
	}
	if pct > limit {
		wp.logger.Debugw("Deferring dequeue under memory pressure", "memory_percent", pct, "max_memory_percent", limit)
		return true
	}
	return false
}

func (wp *WorkerPool) trackActive(delta int) {
	wp.mu.Lock()
	wp.activeWorkers += delta
	wp.mu.Unlock()
	wp.metrics.WorkerBusy(float64(delta))
}

// ActiveWorkers returns how many workers are executing a job.
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Queue returns the job queue.
func (wp *WorkerPool) Queue() *Queue {
	return wp.queue
}

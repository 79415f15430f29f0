package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/pulse/async"
)

// Ticker checks every interval which scheduled-pull sources are due and
// hands one PullTick per due source to the handler. Sources are picked up
// and dropped as the config cache changes; an edited cron expression takes
// effect from the next check.
type Ticker struct {
	sources    SourceLister
	handler    TickHandler
	queue      *async.Queue      // optional, for the activity line
	workerPool *async.WorkerPool // optional, for system metrics in ticker display
	interval   time.Duration
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger
	pulseLog   *zap.SugaredLogger // Logger with Pulse symbol pre-attached

	mu              sync.Mutex
	entries         map[string]*entry
	lastTickAt      time.Time
	ticksSinceStart int64
	lastActiveWork  int // Track last active work count to detect changes
}

// TickerConfig contains configuration for the Pulse ticker
type TickerConfig struct {
	Interval time.Duration // How often to check for due sources (default: 1 second)
	Now      func() time.Time
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 1 * time.Second,
		Now:      time.Now,
	}
}

// NewTicker creates a ticker. queue and workerPool may be nil.
func NewTicker(ctx context.Context, sources SourceLister, handler TickHandler, queue *async.Queue, workerPool *async.WorkerPool, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		sources:    sources,
		handler:    handler,
		queue:      queue,
		workerPool: workerPool,
		interval:   cfg.Interval,
		now:        cfg.Now,
		ctx:        tickerCtx,
		cancel:     cancel,
		logger:     log,
		pulseLog:   logger.AddPulseSymbol(log.Named("ticker")),
		entries:    make(map[string]*entry),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.pulseLog.Infow("Pulse ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.pulseLog.Infow("Pulse ticker stopped")
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			now := t.now()
			t.mu.Lock()
			t.lastTickAt = now
			t.ticksSinceStart++
			ticks := t.ticksSinceStart
			t.mu.Unlock()

			if err := t.checkSchedules(t.ctx, now); err != nil && t.ctx.Err() == nil {
				// Don't spam logs - log errors at warn level
				t.pulseLog.Warnw("Pulse tick error", logger.FieldError, err, "tick", ticks)
			}
			t.logActivity(t.ctx, now)
		}
	}
}

// checkSchedules syncs the registered entries with the current sources and
// fires every entry whose next run is at or before now. Missed instants
// collapse into one tick for the latest of them.
func (t *Ticker) checkSchedules(ctx context.Context, now time.Time) error {
	due := t.sync(ctx, now)

	var errs []error
	for _, tick := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := t.pulseLog.With(logger.FieldSourceID, tick.SourceID, "scheduled_at", tick.ScheduledAt.Format(time.RFC3339))
		if err := t.handler.HandleTick(ctx, tick); err != nil {
			log.Errorw("Scheduled pull failed", logger.FieldError, err)
			errs = append(errs, err)
			continue
		}
		log.Infow("Scheduled pull fired")
	}

	if len(errs) > 0 {
		err := errors.Newf("%d of %d scheduled pulls failed", len(errs), len(due))
		for _, e := range errs {
			err = errors.WithDetail(err, e.Error())
		}
		return err
	}
	return nil
}

// sync updates the entry table and returns the due ticks in source order.
func (t *Ticker) sync(ctx context.Context, now time.Time) []PullTick {
	sources := t.sources.PullSources(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(sources))
	var due []PullTick
	for _, src := range sources {
		id := src.ID()
		spec := src.Config.Ingestion.Schedule
		seen[id] = true

		e, ok := t.entries[id]
		if !ok || e.spec != spec {
			sched, err := cron.ParseStandard(spec)
			if err != nil {
				t.pulseLog.Warnw("Skipping source with invalid schedule",
					logger.FieldSourceID, id, "schedule", spec, logger.FieldError, err)
				delete(t.entries, id)
				continue
			}
			// New or changed schedules start from the next instant after now
			e = &entry{spec: spec, schedule: sched, next: sched.Next(now)}
			t.entries[id] = e
			t.pulseLog.Debugw("Registered pull schedule",
				logger.FieldSourceID, id, "schedule", spec, "next_run_at", e.next)
			continue
		}

		if now.Before(e.next) {
			continue
		}
		fireAt := e.next
		for next := e.schedule.Next(fireAt); !next.After(now); next = e.schedule.Next(next) {
			fireAt = next
		}
		due = append(due, PullTick{SourceID: id, ScheduledAt: fireAt.UTC()})
		e.next = e.schedule.Next(now)
	}

	for id := range t.entries {
		if !seen[id] {
			delete(t.entries, id)
			t.pulseLog.Debugw("Dropped pull schedule", logger.FieldSourceID, id)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].SourceID < due[j].SourceID })
	return due
}

// logActivity logs queue activity and the next scheduled pull whenever the
// amount of active work changes.
func (t *Ticker) logActivity(ctx context.Context, now time.Time) {
	if t.queue == nil {
		return
	}
	counts, err := t.queue.Stats(ctx)
	if err != nil {
		t.pulseLog.Warnw("Failed to get queue stats", logger.FieldError, err)
		return
	}

	activeWork := counts[async.JobStatusQueued] + counts[async.JobStatusProcessing]

	t.mu.Lock()
	hasChanged := activeWork != t.lastActiveWork
	t.lastActiveWork = activeWork
	t.mu.Unlock()

	if !hasChanged {
		return
	}

	// 1 symbol per 5 jobs, capped at 60
	pulseIndicator := ""
	if activeWork > 0 {
		numSymbols := min(activeWork/5+1, 60)
		pulseIndicator = strings.Repeat(logger.SymPulse, numSymbols) + " "
	}

	msg := fmt.Sprintf("%sPulse - %d jobs active", pulseIndicator, activeWork)
	if next, ok := t.nextEntry(); ok {
		until := max(next.NextRunAt.Sub(now), 0)
		msg += fmt.Sprintf(", next pull '%s' in %s", next.SourceID, until.Round(time.Second))
	}

	if t.workerPool != nil {
		sm := t.workerPool.GetSystemMetrics(ctx)
		msg += fmt.Sprintf(" │ Workers: %d/%d active │ Mem: %.1f/%.1fGB (%.0f%%)",
			sm.WorkersActive, sm.WorkersTotal,
			sm.MemoryUsedGB, sm.MemoryTotalGB, sm.MemoryPercent)
	}

	t.pulseLog.Infow(msg)
}

func (t *Ticker) nextEntry() (Entry, bool) {
	entries := t.Entries()
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

// Entries returns the registered schedules ordered by next run.
func (t *Ticker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for id, e := range t.entries {
		out = append(out, Entry{SourceID: id, Schedule: e.spec, NextRunAt: e.next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextRunAt.Equal(out[j].NextRunAt) {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].NextRunAt.Before(out[j].NextRunAt)
	})
	return out
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
		"schedules":         len(t.entries),
	}
}

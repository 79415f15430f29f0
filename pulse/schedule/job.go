// Package schedule fires scheduled-pull ticks for sources whose cron
// expression has come due.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/croplink/sourcecfg"
)

// PullTick asks for one scheduled pull of a source. ScheduledAt is the
// cron instant that came due, not the wall time the tick was noticed, so
// two tickers firing for the same instant produce identical ticks.
type PullTick struct {
	SourceID    string
	ScheduledAt time.Time
}

// SourceLister yields the currently enabled scheduled-pull sources.
type SourceLister interface {
	PullSources(ctx context.Context) []*sourcecfg.Source
}

// TickHandler receives due ticks.
type TickHandler interface {
	HandleTick(ctx context.Context, tick PullTick) error
}

// TickHandlerFunc adapts a function to TickHandler.
type TickHandlerFunc func(ctx context.Context, tick PullTick) error

// HandleTick calls f.
func (f TickHandlerFunc) HandleTick(ctx context.Context, tick PullTick) error {
	return f(ctx, tick)
}

// entry tracks the next fire time of one source.
type entry struct {
	spec     string
	schedule cron.Schedule
	next     time.Time
}

// Entry is a read-only view of a registered schedule.
type Entry struct {
	SourceID  string    `json:"source_id"`
	Schedule  string    `json:"schedule"`
	NextRunAt time.Time `json:"next_run_at"`
}

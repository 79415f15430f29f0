package sourcecfg

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/metrics"
)

// DefaultTTL is how long a loaded snapshot is served before a refresh.
const DefaultTTL = 5 * time.Minute

// maxRefreshRetry bounds how often a failing store is retried while the
// stale snapshot is served.
const maxRefreshRetry = 30 * time.Second

// Miss says why an event found no source.
type Miss string

const (
	MissNone      Miss = ""
	MissContainer Miss = "container"
	MissPath      Miss = "path"
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	TTL     time.Duration
	Now     func() time.Time
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

// snapshot is an immutable view of every valid enabled source.
type snapshot struct {
	byID        map[string]*Source
	byContainer map[string][]*Source
	pulls       []*Source
	rejected    map[string]error
}

// Cache serves enabled, validated source configs from an in-memory snapshot
// refreshed from the store when older than the TTL. Lookups see either the
// previous or the next snapshot, never a mix. A failed refresh keeps the
// previous snapshot.
type Cache struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	snap      *snapshot
	loadedAt  time.Time
	nextRetry time.Time
	stale     bool

	// single writer
	refreshMu sync.Mutex
}

// NewCache creates a cache over store. Nothing is loaded until the first
// lookup or an explicit Refresh.
func NewCache(store Store, opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Cache{
		store:   store,
		ttl:     opts.TTL,
		now:     opts.Now,
		log:     opts.Logger,
		metrics: opts.Metrics,
		snap:    &snapshot{},
		stale:   true,
	}
}

// LookupByID returns the enabled source with id.
func (c *Cache) LookupByID(ctx context.Context, sourceID string) (*Source, error) {
	snap := c.current(ctx)
	if src, ok := snap.byID[sourceID]; ok {
		return src, nil
	}
	return nil, errors.NewNotFoundError("no enabled source config %s", sourceID)
}

// LookupByContainer returns the first enabled source, by id, that lands in
// the named container.
func (c *Cache) LookupByContainer(ctx context.Context, name string) (*Source, error) {
	snap := c.current(ctx)
	if srcs := snap.byContainer[name]; len(srcs) > 0 {
		return srcs[0], nil
	}
	return nil, errors.NewNotFoundError("no enabled source config for container %s", name)
}

// Match finds the source whose container and path pattern accept the
// delivery, with the extracted fields. Sources sharing a container are
// tried in id order.
func (c *Cache) Match(ctx context.Context, container, path string) (*Source, map[string]string, Miss) {
	srcs := c.current(ctx).byContainer[container]
	if len(srcs) == 0 {
		return nil, nil, MissContainer
	}
	for _, src := range srcs {
		if fields, ok := src.Matcher.Match(path); ok {
			return src, fields, MissNone
		}
	}
	return nil, nil, MissPath
}

// PullSources returns every enabled scheduled-pull source.
func (c *Cache) PullSources(ctx context.Context) []*Source {
	return c.current(ctx).pulls
}

// Sources returns every served source ordered by id.
func (c *Cache) Sources(ctx context.Context) []*Source {
	snap := c.current(ctx)
	out := make([]*Source, 0, len(snap.byID))
	for _, src := range snap.byID {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Rejected returns the configs excluded from the snapshot by validation.
func (c *Cache) Rejected(ctx context.Context) map[string]error {
	return c.current(ctx).rejected
}

// Invalidate forces the next lookup to refresh.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.nextRetry = time.Time{}
	c.mu.Unlock()
}

// Refresh reloads the snapshot now. On failure the previous snapshot stays
// in place and the error is returned.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Cache) current(ctx context.Context) *snapshot {
	c.mu.RLock()
	snap, due := c.snap, c.dueLocked()
	c.mu.RUnlock()
	if !due {
		return snap
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited
	c.mu.RLock()
	due = c.dueLocked()
	c.mu.RUnlock()
	if due {
		if err := c.refreshLocked(ctx); err != nil {
			c.log.Warnw("Source config cache degraded, serving stale snapshot",
				"error", err,
				"loaded_at", c.loadedAt,
			)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Cache) dueLocked() bool {
	now := c.now()
	if now.Before(c.nextRetry) {
		return false
	}
	return c.stale || !now.Before(c.loadedAt.Add(c.ttl))
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	cfgs, err := c.store.ListEnabled(ctx)
	c.metrics.RecordCacheRefresh(err)
	if err != nil {
		retry := c.ttl
		if retry > maxRefreshRetry {
			retry = maxRefreshRetry
		}
		c.mu.Lock()
		c.nextRetry = c.now().Add(retry)
		c.mu.Unlock()
		return errors.Wrap(err, "failed to refresh source configs")
	}

	next := build(cfgs)
	for id, cfgErr := range next.rejected {
		c.log.Errorw("Source config rejected", "source_id", id, "error", cfgErr)
	}

	c.mu.Lock()
	c.snap = next
	c.loadedAt = c.now()
	c.nextRetry = time.Time{}
	c.stale = false
	c.mu.Unlock()

	c.log.Debugw("Source config cache refreshed",
		"count", len(next.byID),
		"rejected", len(next.rejected),
	)
	return nil
}

func build(cfgs []*SourceConfig) *snapshot {
	snap := &snapshot{
		byID:        make(map[string]*Source, len(cfgs)),
		byContainer: make(map[string][]*Source),
		rejected:    make(map[string]error),
	}
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		src, err := Compile(cfg)
		if err != nil {
			snap.rejected[cfg.SourceID] = err
			continue
		}
		snap.byID[cfg.SourceID] = src
		switch cfg.Ingestion.Mode {
		case ModeEventTriggered:
			name := cfg.Ingestion.LandingContainer
			snap.byContainer[name] = append(snap.byContainer[name], src)
		case ModeScheduledPull:
			snap.pulls = append(snap.pulls, src)
		}
	}
	for _, srcs := range snap.byContainer {
		sort.Slice(srcs, func(i, j int) bool { return srcs[i].ID() < srcs[j].ID() })
	}
	sort.Slice(snap.pulls, func(i, j int) bool { return snap.pulls[i].ID() < snap.pulls[j].ID() })
	return snap
}

package ingest

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/croplink/content"
	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/metrics"
	"github.com/teranos/croplink/pulse/schedule"
	"github.com/teranos/croplink/sourcecfg"
)

// unmatchedSource counts ticks whose source is gone or no longer pulled.
const unmatchedSource = "source"

// Adapter normalizes storage notifications and scheduled-pull ticks into
// candidates and admits them through the gate. Deliveries that match no
// source are logged and counted, never returned as errors.
type Adapter struct {
	sources   *sourcecfg.Cache
	gate      *Gate
	resolvers map[string]Resolver
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
}

// NewAdapter creates an adapter. resolvers expand iterated pulls by name.
func NewAdapter(sources *sourcecfg.Cache, gate *Gate, resolvers map[string]Resolver, m *metrics.Metrics, log *zap.SugaredLogger) *Adapter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Adapter{
		sources:   sources,
		gate:      gate,
		resolvers: resolvers,
		metrics:   m,
		log:       logger.AddIngestSymbol(log.Named("ingest")),
	}
}

// HandleEvents admits every blob-created event in the batch. A batch that
// carries a subscription handshake returns its validation code and admits
// nothing. Admission failures do not stop the batch; they are returned
// together once every event was tried.
func (a *Adapter) HandleEvents(ctx context.Context, events []StorageEvent) (BatchResult, error) {
	var res BatchResult
	for _, ev := range events {
		if ev.EventType == EventSubscriptionValidation {
			a.log.Infow("Subscription validation requested", "event_id", ev.ID)
			return BatchResult{ValidationCode: ev.Data.ValidationCode}, nil
		}
	}

	var errs []error
	for _, ev := range events {
		if ev.EventType != EventBlobCreated {
			a.log.Debugw("Ignoring event", "event_id", ev.ID, "event_type", ev.EventType)
			res.Ignored++
			continue
		}
		container, path, err := ParseSubject(ev.Subject)
		if err != nil {
			a.log.Warnw("Ignoring event with malformed subject", "event_id", ev.ID, logger.FieldError, err)
			res.Ignored++
			continue
		}
		if ev.Data.ETag == "" {
			a.log.Warnw("Ignoring event without version token", "event_id", ev.ID, logger.FieldPath, path)
			res.Ignored++
			continue
		}

		src, fields, miss := a.sources.Match(ctx, container, path)
		if miss != sourcecfg.MissNone {
			a.metrics.RecordUnmatched(string(miss))
			a.log.Warnw("No source config matches delivery",
				"container", container,
				logger.FieldPath, path,
				"miss", miss)
			res.Unmatched++
			continue
		}

		_, created, err := a.gate.Admit(ctx, Candidate{
			Container:           container,
			Path:                path,
			ContentVersionToken: ev.Data.ETag,
			Size:                ev.Data.ContentLength,
			ObservedAt:          ev.EventTime,
			Metadata:            fields,
		}, src)
		switch {
		case err != nil:
			errs = append(errs, errors.Wrapf(err, "event %s", ev.ID))
		case created:
			res.Accepted++
		default:
			res.Duplicates++
		}
	}

	if len(errs) > 0 {
		return res, errors.Wrapf(errors.Join(errs...), "%d of %d events failed admission", len(errs), len(events))
	}
	return res, nil
}

// HandleTick expands a scheduled pull into one candidate per iteration
// element, or a single candidate without iteration. The synthetic path and
// token derive from the scheduled instant, so a repeated tick is a
// duplicate delivery.
func (a *Adapter) HandleTick(ctx context.Context, tick schedule.PullTick) error {
	src, err := a.sources.LookupByID(ctx, tick.SourceID)
	if errors.IsNotFoundError(err) || (err == nil && src.Config.Ingestion.Mode != sourcecfg.ModeScheduledPull) {
		a.metrics.RecordUnmatched(unmatchedSource)
		a.log.Warnw("No scheduled-pull source for tick", logger.FieldSourceID, tick.SourceID)
		return nil
	}
	if err != nil {
		return err
	}
	cfg := src.Config

	at := tick.ScheduledAt.UTC()
	stamp := at.Format(time.RFC3339)
	token := strconv.FormatInt(at.Unix(), 10)

	it := cfg.Ingestion.Iteration
	if it == nil {
		_, _, err := a.gate.Admit(ctx, Candidate{
			Path:                cfg.SourceID + "/" + stamp,
			ContentVersionToken: token,
			ObservedAt:          at,
			Metadata:            map[string]string{content.MetaScheduledAt: stamp},
		}, src)
		return err
	}

	resolver := a.resolvers[it.Resolver]
	if resolver == nil {
		return errors.Newf("source %s names unknown iteration resolver %q", cfg.SourceID, it.Resolver)
	}
	values, err := resolver.Resolve(ctx, cfg.TenantID)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s for source %s", it.Resolver, cfg.SourceID)
	}
	if len(values) == 0 {
		a.log.Infow("Iteration resolved no elements", logger.FieldSourceID, cfg.SourceID, "resolver", it.Resolver)
		return nil
	}

	var errs []error
	for _, v := range values {
		_, _, err := a.gate.Admit(ctx, Candidate{
			Path:                cfg.SourceID + "/" + v + "/" + stamp,
			ContentVersionToken: token,
			ObservedAt:          at,
			Metadata:            map[string]string{it.Param: v, content.MetaScheduledAt: stamp},
		}, src)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrapf(errors.Join(errs...), "%d of %d pulls for source %s failed admission", len(errs), len(values), cfg.SourceID)
	}
	return nil
}

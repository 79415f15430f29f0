package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/croplink/content"
	croptest "github.com/teranos/croplink/internal/testing"
	"github.com/teranos/croplink/pulse/async"
	"github.com/teranos/croplink/pulse/schedule"
)

func TestParseSubject(t *testing.T) {
	tests := []struct {
		subject   string
		container string
		path      string
		wantErr   bool
	}{
		{"/blobServices/default/containers/qc-landing/blobs/results/FRM-001/B-77.json", "qc-landing", "results/FRM-001/B-77.json", false},
		{"/blobServices/default/containers/c/blobs/a.json", "c", "a.json", false},
		{"/blobServices/default/containers/c/blobs/", "", "", true},
		{"/blobServices/default/containers//blobs/a.json", "", "", true},
		{"/fileServices/default/shares/c/files/a.json", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			container, path, err := ParseSubject(tt.subject)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.container, container)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestHandleEventsDeliveryIdempotency(t *testing.T) {
	h := newHarness(t, qcConfig())
	ctx := context.Background()
	path := "results/FRM-001/B-77.json"

	res, err := h.adapter.HandleEvents(ctx, []StorageEvent{blobEvent("e1", "qc-landing", path, "etag-1")})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Accepted: 1}, res)

	jobs, err := h.queue.Store().ListJobs(ctx, async.JobFilter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	first := jobs[0]
	assert.Equal(t, "qc-result", first.SourceID)
	assert.Equal(t, "qc-landing", first.Container)
	assert.Equal(t, "etag-1", first.ContentVersionToken)
	assert.Equal(t, int64(512), first.Size)
	assert.Equal(t, map[string]string{"farmer_id": "FRM-001", "batch_id": "B-77"}, first.Metadata)
	assert.Equal(t, async.JobStatusQueued, first.Status)

	res, err = h.adapter.HandleEvents(ctx, []StorageEvent{blobEvent("e2", "qc-landing", path, "etag-1")})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Duplicates: 1}, res)
	assert.Equal(t, 1, h.jobCount(t), "redelivery with the same token creates no job")

	res, err = h.adapter.HandleEvents(ctx, []StorageEvent{blobEvent("e3", "qc-landing", path, "etag-2")})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Accepted: 1}, res)
	assert.Equal(t, 2, h.jobCount(t), "a new token is a new job")

	second, err := h.queue.Store().GetJobByDelivery(ctx, path, "etag-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.JobsAdmitted.WithLabelValues("qc-result", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JobsAdmitted.WithLabelValues("qc-result", "false")))
}

func TestHandleEventsDuplicateWithinBatch(t *testing.T) {
	h := newHarness(t, qcConfig())

	ev := blobEvent("e1", "qc-landing", "results/FRM-001/B-77.json", "etag-1")
	res, err := h.adapter.HandleEvents(context.Background(), []StorageEvent{ev, ev})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Accepted: 1, Duplicates: 1}, res)
	assert.Equal(t, 1, h.jobCount(t))
}

func TestHandleEventsHandshake(t *testing.T) {
	h := newHarness(t, qcConfig())

	res, err := h.adapter.HandleEvents(context.Background(), []StorageEvent{{
		ID:        "v1",
		EventType: EventSubscriptionValidation,
		Data:      EventData{ValidationCode: "512d38b6-c7b8-40c8-89fe-f46f9e9622b6"},
	}})
	require.NoError(t, err)
	assert.True(t, res.IsHandshake())
	assert.Equal(t, "512d38b6-c7b8-40c8-89fe-f46f9e9622b6", res.ValidationCode)
	assert.Zero(t, h.jobCount(t))
}

func TestHandleEventsUnmatchedContainer(t *testing.T) {
	h := newHarness(t, qcConfig())

	res, err := h.adapter.HandleEvents(context.Background(), []StorageEvent{
		blobEvent("e1", "unknown-landing", "results/FRM-001/B-77.json", "etag-1"),
	})
	require.NoError(t, err, "unmatched deliveries are not errors")
	assert.Equal(t, BatchResult{Unmatched: 1}, res)
	assert.Zero(t, h.jobCount(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UnmatchedEvents.WithLabelValues("container")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.UnmatchedEvents.WithLabelValues("path")))
}

func TestHandleEventsUnmatchedPath(t *testing.T) {
	h := newHarness(t, qcConfig())

	res, err := h.adapter.HandleEvents(context.Background(), []StorageEvent{
		blobEvent("e1", "qc-landing", "other/FRM-001/B-77.json", "etag-1"),
		blobEvent("e2", "qc-landing", "results/FRM-001/B-77.json", "etag-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Accepted: 1, Unmatched: 1}, res)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UnmatchedEvents.WithLabelValues("path")))
}

func TestHandleEventsIgnoresUnusableEvents(t *testing.T) {
	h := newHarness(t, qcConfig())

	deleted := blobEvent("e1", "qc-landing", "results/FRM-001/B-77.json", "etag-1")
	deleted.EventType = "Microsoft.Storage.BlobDeleted"
	malformed := blobEvent("e2", "qc-landing", "results/FRM-001/B-77.json", "etag-1")
	malformed.Subject = "/containers/qc-landing/results/FRM-001/B-77.json"
	noToken := blobEvent("e3", "qc-landing", "results/FRM-001/B-77.json", "")

	res, err := h.adapter.HandleEvents(context.Background(), []StorageEvent{deleted, malformed, noToken})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Ignored: 3}, res)
	assert.Zero(t, h.jobCount(t))
}

func TestHandleEventsReportsAdmissionFailures(t *testing.T) {
	h := newHarness(t, qcConfig())
	require.NoError(t, h.db.Close())

	res, err := h.adapter.HandleEvents(context.Background(), []StorageEvent{
		blobEvent("e1", "qc-landing", "results/FRM-001/B-77.json", "etag-1"),
		blobEvent("e2", "unknown-landing", "results/FRM-001/B-78.json", "etag-1"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 events failed admission")
	assert.Equal(t, BatchResult{Unmatched: 1}, res, "the rest of the batch is still handled")
}

func TestHandleTickFansOutOverActiveRegions(t *testing.T) {
	h := newHarness(t, weatherConfig())
	ctx := context.Background()
	croptest.SeedReference(t, h.db, "regions", "RGN-1", "RGN-2")
	_, err := h.db.Exec(`INSERT INTO regions (id, name, active) VALUES ('RGN-0', 'retired', 0)`)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, h.adapter.HandleTick(ctx, schedule.PullTick{SourceID: "weather-daily", ScheduledAt: at}))
	assert.Equal(t, 2, h.jobCount(t))

	job, err := h.queue.Store().GetJobByDelivery(ctx, "weather-daily/RGN-2/2026-03-01T06:00:00Z", "1772344800")
	require.NoError(t, err)
	assert.Equal(t, "scheduled-pull", job.Mode)
	assert.Empty(t, job.Container)
	assert.Equal(t, map[string]string{
		"region_id":             "RGN-2",
		content.MetaScheduledAt: "2026-03-01T06:00:00Z",
	}, job.Metadata)
	assert.True(t, at.Equal(job.ObservedAt))

	require.NoError(t, h.adapter.HandleTick(ctx, schedule.PullTick{SourceID: "weather-daily", ScheduledAt: at}))
	assert.Equal(t, 2, h.jobCount(t), "a repeated tick is a duplicate delivery")

	require.NoError(t, h.adapter.HandleTick(ctx, schedule.PullTick{SourceID: "weather-daily", ScheduledAt: at.Add(24 * time.Hour)}))
	assert.Equal(t, 4, h.jobCount(t))
}

func TestHandleTickScopesRegionsToTenant(t *testing.T) {
	cfg := weatherConfig()
	cfg.TenantID = "coop-a"
	h := newHarness(t, cfg)
	_, err := h.db.Exec(`INSERT INTO regions (id, tenant_id, name, active) VALUES
		('RGN-1', '', 'shared', 1),
		('RGN-2', 'coop-a', 'north', 1),
		('RGN-3', 'coop-b', 'south', 1)`)
	require.NoError(t, err)

	regions, err := SQLResolvers(h.db)["active_regions"].Resolve(context.Background(), "coop-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"RGN-1", "RGN-2"}, regions)

	at := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, h.adapter.HandleTick(context.Background(), schedule.PullTick{SourceID: "weather-daily", ScheduledAt: at}))
	assert.Equal(t, 2, h.jobCount(t))

	jobs, err := h.queue.Store().ListJobs(context.Background(), async.JobFilter{}, 0, 10)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.Equal(t, "coop-a", j.TenantID)
	}
}

func TestHandleTickWithoutIteration(t *testing.T) {
	h := newHarness(t, pricesConfig())

	at := time.Date(2026, 3, 1, 7, 0, 0, 0, time.FixedZone("CET", 3600))
	require.NoError(t, h.adapter.HandleTick(context.Background(), schedule.PullTick{SourceID: "market-prices", ScheduledAt: at}))

	job, err := h.queue.Store().GetJobByDelivery(context.Background(), "market-prices/2026-03-01T06:00:00Z", "1772344800")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{content.MetaScheduledAt: "2026-03-01T06:00:00Z"}, job.Metadata)
}

func TestHandleTickNoRegionsCreatesNothing(t *testing.T) {
	h := newHarness(t, weatherConfig())

	require.NoError(t, h.adapter.HandleTick(context.Background(), schedule.PullTick{SourceID: "weather-daily", ScheduledAt: testNow}))
	assert.Zero(t, h.jobCount(t))
}

func TestHandleTickUnknownSource(t *testing.T) {
	h := newHarness(t, qcConfig())

	require.NoError(t, h.adapter.HandleTick(context.Background(), schedule.PullTick{SourceID: "gone", ScheduledAt: testNow}))
	require.NoError(t, h.adapter.HandleTick(context.Background(), schedule.PullTick{SourceID: "qc-result", ScheduledAt: testNow}),
		"an event-triggered source never takes ticks")
	assert.Zero(t, h.jobCount(t))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.UnmatchedEvents.WithLabelValues("source")))
}

func TestHandleTickResolverFailure(t *testing.T) {
	h := newHarness(t, weatherConfig())
	h.adapter.resolvers = map[string]Resolver{
		"active_regions": ResolverFunc(func(context.Context, string) ([]string, error) {
			return nil, context.DeadlineExceeded
		}),
	}

	err := h.adapter.HandleTick(context.Background(), schedule.PullTick{SourceID: "weather-daily", ScheduledAt: testNow})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, h.jobCount(t))
}

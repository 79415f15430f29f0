package ingest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teranos/croplink/errors"
	croptest "github.com/teranos/croplink/internal/testing"
	"github.com/teranos/croplink/metrics"
	"github.com/teranos/croplink/pulse/async"
	"github.com/teranos/croplink/sourcecfg"
)

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type staticStore struct {
	cfgs []*sourcecfg.SourceConfig
}

func (s *staticStore) ListEnabled(context.Context) ([]*sourcecfg.SourceConfig, error) {
	var out []*sourcecfg.SourceConfig
	for _, c := range s.cfgs {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *staticStore) LookupByID(_ context.Context, id string) (*sourcecfg.SourceConfig, error) {
	for _, c := range s.cfgs {
		if c.SourceID == id {
			return c, nil
		}
	}
	return nil, errors.NewNotFoundError("source %s", id)
}

func (s *staticStore) LookupByContainer(_ context.Context, name string) ([]*sourcecfg.SourceConfig, error) {
	var out []*sourcecfg.SourceConfig
	for _, c := range s.cfgs {
		if c.Enabled && c.Ingestion.LandingContainer == name {
			out = append(out, c)
		}
	}
	return out, nil
}

func qcConfig() *sourcecfg.SourceConfig {
	return &sourcecfg.SourceConfig{
		SourceID: "qc-result",
		Enabled:  true,
		Ingestion: sourcecfg.Ingestion{
			Mode:             sourcecfg.ModeEventTriggered,
			LandingContainer: "qc-landing",
			PathPattern: sourcecfg.PathPattern{
				Template: "results/{farmer_id}/{batch_id}.json",
				Fields:   []string{"farmer_id", "batch_id"},
			},
		},
		Transformation: sourcecfg.Transformation{
			Strategy: sourcecfg.StrategyDirect,
			FieldMappings: map[string]string{
				"grade":      "result.grade",
				"factory_id": "factory",
			},
		},
		Storage: sourcecfg.Storage{Index: "qc-results"},
		Linkage: []sourcecfg.LinkageField{
			{Kind: sourcecfg.LinkFarmer},
			{Kind: sourcecfg.LinkFactory},
		},
	}
}

func weatherConfig() *sourcecfg.SourceConfig {
	return &sourcecfg.SourceConfig{
		SourceID: "weather-daily",
		Enabled:  true,
		Ingestion: sourcecfg.Ingestion{
			Mode:      sourcecfg.ModeScheduledPull,
			Schedule:  "0 6 * * *",
			Request:   &sourcecfg.Request{URL: "https://api.weather.example.com/v1/daily?region={region_id}"},
			Iteration: &sourcecfg.Iteration{Resolver: "active_regions", Param: "region_id"},
		},
		Transformation: sourcecfg.Transformation{Strategy: sourcecfg.StrategyDirect},
	}
}

func pricesConfig() *sourcecfg.SourceConfig {
	return &sourcecfg.SourceConfig{
		SourceID: "market-prices",
		Enabled:  true,
		Ingestion: sourcecfg.Ingestion{
			Mode:     sourcecfg.ModeScheduledPull,
			Schedule: "0 * * * *",
			Request:  &sourcecfg.Request{URL: "https://prices.example.com/v2/latest"},
		},
	}
}

type harness struct {
	db      *sql.DB
	queue   *async.Queue
	cache   *sourcecfg.Cache
	gate    *Gate
	adapter *Adapter
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, cfgs ...*sourcecfg.SourceConfig) *harness {
	t.Helper()
	db := croptest.CreateTestDB(t)
	m := metrics.New(prometheus.NewRegistry())
	queue := async.NewQueueWithClock(db, func() time.Time { return testNow })
	cache := sourcecfg.NewCache(&staticStore{cfgs: cfgs}, sourcecfg.CacheOptions{
		Now:     func() time.Time { return testNow },
		Metrics: m,
	})
	gate := NewGate(queue, 3, m, nil)
	return &harness{
		db:      db,
		queue:   queue,
		cache:   cache,
		gate:    gate,
		adapter: NewAdapter(cache, gate, SQLResolvers(db), m, nil),
		metrics: m,
	}
}

func (h *harness) jobCount(t *testing.T) int {
	t.Helper()
	n, err := h.queue.Store().CountJobs(context.Background(), async.JobFilter{})
	if err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	return n
}

func blobEvent(id, container, path, etag string) StorageEvent {
	return StorageEvent{
		ID:        id,
		EventType: EventBlobCreated,
		Subject:   "/blobServices/default/containers/" + container + "/blobs/" + path,
		EventTime: testNow.Add(-time.Minute),
		Data: EventData{
			API:           "PutBlob",
			ETag:          etag,
			ContentLength: 512,
			URL:           "https://landing.blob.core.windows.net/" + container + "/" + path,
		},
	}
}

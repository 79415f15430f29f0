package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/croplink/errors"
	croptest "github.com/teranos/croplink/internal/testing"
	"github.com/teranos/croplink/metrics"
)

func newTestStore(t *testing.T) (*Store, *metrics.Metrics, *sql.DB) {
	t.Helper()
	db := croptest.CreateTestDB(t)
	m := metrics.New(prometheus.NewRegistry())
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return NewStoreWithClock(db, m, nil, now), m, db
}

func qcDocument(ingestionID, hash string) *Document {
	return &Document{
		SourceID:        "qc-result",
		ContentHash:     hash,
		FarmerID:        "FRM-001",
		FactoryID:       "FAC-9",
		ExtractedFields: map[string]any{"grade": "A", "moisture": json.Number("13.2")},
		IngestionID:     ingestionID,
		RawLocation:     "file:///landing/qc-landing/results/FRM-001/B-77.json",
		IndexName:       "qc-results",
	}
}

func TestUpsertCreatesDocument(t *testing.T) {
	s, m, _ := newTestStore(t)
	ctx := context.Background()

	doc, dup, err := s.Upsert(ctx, qcDocument("job-1", "hash-a"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, StatusActive, doc.Status)
	assert.Equal(t, "FRM-001", doc.FarmerID)
	assert.Empty(t, doc.RegionID)
	assert.Equal(t, json.Number("13.2"), doc.ExtractedFields["moisture"])

	got, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsStored.WithLabelValues("qc-result", "false")))
}

func TestUpsertSameContentRecordsDuplicate(t *testing.T) {
	s, m, _ := newTestStore(t)
	ctx := context.Background()

	first, _, err := s.Upsert(ctx, qcDocument("job-1", "hash-a"))
	require.NoError(t, err)

	second, dup, err := s.Upsert(ctx, qcDocument("job-2", "hash-a"))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "job-1", second.IngestionID, "the original document is untouched")

	n, err := s.Count(ctx, "qc-result")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deliveries, err := s.Deliveries(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "job-1", deliveries[0].IngestionID)
	assert.False(t, deliveries[0].Duplicate)
	assert.Equal(t, "job-2", deliveries[1].IngestionID)
	assert.True(t, deliveries[1].Duplicate)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsStored.WithLabelValues("qc-result", "true")))
}

func TestUpsertHashIsScopedToSource(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	a, _, err := s.Upsert(ctx, qcDocument("job-1", "hash-a"))
	require.NoError(t, err)

	other := qcDocument("job-2", "hash-a")
	other.SourceID = "qc-result-v2"
	b, dup, err := s.Upsert(ctx, other)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestUpsertRetriedIngestionKeepsFirstOutcome(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	first, _, err := s.Upsert(ctx, qcDocument("job-1", "hash-a"))
	require.NoError(t, err)

	// Same ingestion again, this time with different content
	again, dup, err := s.Upsert(ctx, qcDocument("job-1", "hash-b"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, first.ID, again.ID)

	n, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "no orphan document for the retried delivery")
}

func TestUpsertConcurrentSameContent(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, _, err := s.Upsert(ctx, qcDocument("job-"+string(rune('a'+i)), "hash-a"))
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = doc.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	n, err := s.Count(ctx, "qc-result")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deliveries, err := s.Deliveries(ctx, ids[0])
	require.NoError(t, err)
	assert.Len(t, deliveries, 8)
}

func TestGetMissing(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListAndSetStatus(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	a, _, err := s.Upsert(ctx, qcDocument("job-1", "hash-a"))
	require.NoError(t, err)
	b, _, err := s.Upsert(ctx, qcDocument("job-2", "hash-b"))
	require.NoError(t, err)

	docs, err := s.List(ctx, "qc-result", 0, 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, b.ID, docs[0].ID, "newest first")

	docs, err = s.List(ctx, "", 1, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, a.ID, docs[0].ID)

	require.NoError(t, s.SetStatus(ctx, a.ID, StatusArchived))
	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, got.Status)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	assert.True(t, errors.IsInvalidRequestError(s.SetStatus(ctx, a.ID, "deleted")))
	assert.True(t, errors.IsNotFoundError(s.SetStatus(ctx, "nope", StatusArchived)))

	byHash, err := s.GetByHash(ctx, "qc-result", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byHash.ID)
}

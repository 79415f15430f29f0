package async

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	croptest "github.com/teranos/croplink/internal/testing"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *testClock, *sql.DB) {
	t.Helper()
	db := croptest.CreateTestDB(t)
	clock := newTestClock()
	return NewQueueWithClock(db, clock.Now), clock, db
}

func qcDelivery(path, token string) Delivery {
	return Delivery{
		SourceID:            "qc-result",
		Mode:                "event-triggered",
		Container:           "qc-landing",
		Path:                path,
		ContentVersionToken: token,
		Size:                512,
		Metadata:            map[string]string{"farmer_id": "FRM-001", "batch_id": "B-77"},
	}
}

func admit(t *testing.T, q *Queue, path, token string) *Job {
	t.Helper()
	job, err := NewJob(qcDelivery(path, token), 3, q.Now())
	require.NoError(t, err)
	got, created, err := q.Admit(t.Context(), job)
	require.NoError(t, err)
	require.True(t, created)
	return got
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return croptest.CreateTestDB(t)
}

package commands

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/croplink/am"
	"github.com/teranos/croplink/db"
	"github.com/teranos/croplink/errors"
	croptest "github.com/teranos/croplink/internal/testing"
	"github.com/teranos/croplink/pulse/async"
	"github.com/teranos/croplink/sourcecfg"
)

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

const qcConfigJSON = `{
	"source_id": "qc-result",
	"version": "1.2.0",
	"enabled": true,
	"ingestion": {
		"mode": "event-triggered",
		"landing_container": "qc-landing",
		"path_pattern": {"template": "results/{farmer_id}/{batch_id}.json", "fields": ["farmer_id", "batch_id"]}
	},
	"linkage": [{"kind": "farmer"}, {"kind": "factory"}]
}`

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

func newTestQueue(t *testing.T) (*async.Queue, *sql.DB) {
	t.Helper()
	db := croptest.CreateTestDB(t)
	return async.NewQueueWithClock(db, func() time.Time { return testNow }), db
}

func admitJob(t *testing.T, q *async.Queue, path, token string) *async.Job {
	t.Helper()
	job, err := async.NewJob(async.Delivery{
		SourceID:            "qc-result",
		Mode:                string(sourcecfg.ModeEventTriggered),
		Container:           "qc-landing",
		Path:                path,
		ContentVersionToken: token,
		ObservedAt:          testNow,
		Metadata:            map[string]string{"farmer_id": "FRM-404"},
	}, 3, q.Now())
	require.NoError(t, err)
	got, created, err := q.Admit(context.Background(), job)
	require.NoError(t, err)
	require.True(t, created)
	return got
}

func deadLetterJob(t *testing.T, q *async.Queue, path string) *async.Job {
	t.Helper()
	admitJob(t, q, path, "etag-1")
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	_, err = q.DeadLetter(context.Background(), job, async.ErrorContext{
		Code:       "not_found",
		Message:    "farmer FRM-404 not found",
		FieldName:  "farmer_id",
		FieldValue: "FRM-404",
	})
	require.NoError(t, err)
	return job
}

func TestListJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, listJobs(ctx, &out, q, async.JobFilter{}, 20, false))
	assert.Contains(t, out.String(), "No jobs found")

	admitJob(t, q, "results/FRM-1/B-1.json", "etag-1")
	admitJob(t, q, "results/FRM-2/B-2.json", "etag-1")
	admitJob(t, q, "results/FRM-3/B-3.json", "etag-1")

	out.Reset()
	require.NoError(t, listJobs(ctx, &out, q, async.JobFilter{}, 2, false))
	assert.Contains(t, out.String(), "qc-result")
	assert.Contains(t, out.String(), "0/3")
	assert.Contains(t, out.String(), "Showing 2 of 3 job(s)")

	out.Reset()
	require.NoError(t, listJobs(ctx, &out, q, async.JobFilter{Status: async.JobStatusFailed}, 20, false))
	assert.Contains(t, out.String(), "No jobs found")

	out.Reset()
	require.NoError(t, listJobs(ctx, &out, q, async.JobFilter{}, 20, true))
	var jobs []async.Job
	require.NoError(t, json.Unmarshal(out.Bytes(), &jobs))
	assert.Len(t, jobs, 3)

	out.Reset()
	require.NoError(t, listJobs(ctx, &out, q, async.JobFilter{Status: async.JobStatusFailed}, 20, true))
	assert.JSONEq(t, "[]", out.String())
}

func TestShowJob(t *testing.T) {
	q, _ := newTestQueue(t)
	job := admitJob(t, q, "results/FRM-404/B-9.json", "etag-7")

	var out bytes.Buffer
	require.NoError(t, showJob(context.Background(), &out, q, job.ID, false))
	assert.Contains(t, out.String(), job.ID)
	assert.Contains(t, out.String(), "qc-landing/results/FRM-404/B-9.json")
	assert.Contains(t, out.String(), "etag-7")
	assert.Contains(t, out.String(), "farmer_id = FRM-404")
	assert.Contains(t, out.String(), "Next try:")

	err := showJob(context.Background(), &out, q, "missing", false)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListAndReplayDeadLetters(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	job := deadLetterJob(t, q, "results/FRM-404/B-1.json")

	var out bytes.Buffer
	require.NoError(t, listDeadLetters(ctx, &out, q, "", 20, false))
	assert.Contains(t, out.String(), "not_found")
	assert.Contains(t, out.String(), "farmer_id=FRM-404")
	assert.Contains(t, out.String(), "Showing 1 of 1")

	out.Reset()
	require.NoError(t, listDeadLetters(ctx, &out, q, "other-source", 20, false))
	assert.Contains(t, out.String(), "No dead-letter entries")

	out.Reset()
	require.NoError(t, replayDeadLetter(ctx, &out, q, job.ID))
	assert.Contains(t, out.String(), "re-queued")

	replayed, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusQueued, replayed.Status)
	assert.Equal(t, 0, replayed.AttemptCount)

	// The entry is gone, so a second replay is a not-found
	err = replayDeadLetter(ctx, &out, q, job.ID)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListSources(t *testing.T) {
	_, database := newTestQueue(t)
	_, err := database.Exec(`INSERT INTO source_configs (source_id, version, enabled, body) VALUES (?, ?, 1, ?)`,
		"qc-result", "1.2.0", qcConfigJSON)
	require.NoError(t, err)
	_, err = database.Exec(`INSERT INTO source_configs (source_id, version, enabled, body) VALUES (?, ?, 1, ?)`,
		"broken", "1.0.0", `{"source_id": "broken", "enabled": true, "ingestion": {"mode": "event-triggered"}}`)
	require.NoError(t, err)

	cache := sourcecfg.NewCache(sourcecfg.NewSQLStore(database), sourcecfg.CacheOptions{})
	var out bytes.Buffer
	require.NoError(t, listSources(context.Background(), &out, cache, false))

	assert.Contains(t, out.String(), "qc-result")
	assert.Contains(t, out.String(), "qc-landing:results/{farmer_id}/{batch_id}.json")
	assert.Contains(t, out.String(), "farmer,factory")
	assert.Contains(t, out.String(), "Rejected (1)")
	assert.Contains(t, out.String(), "✗ broken")

	out.Reset()
	require.NoError(t, listSources(context.Background(), &out, cache, true))
	var listing struct {
		Sources  []sourcecfg.SourceConfig `json:"sources"`
		Rejected map[string]string        `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &listing))
	require.Len(t, listing.Sources, 1)
	assert.Equal(t, "1.2.0", listing.Sources[0].Version)
	assert.Contains(t, listing.Rejected, "broken")
}

func TestNewSourceStore(t *testing.T) {
	_, database := newTestQueue(t)

	store, err := newSourceStore(&am.Config{Sources: am.SourcesConfig{Store: "sql"}}, database, nil)
	require.NoError(t, err)
	assert.IsType(t, &sourcecfg.SQLStore{}, store)

	dir := t.TempDir()
	store, err = newSourceStore(&am.Config{Sources: am.SourcesConfig{Store: "dir", Dir: dir}}, database, nil)
	require.NoError(t, err)
	assert.IsType(t, &sourcecfg.DirStore{}, store)

	_, err = newSourceStore(&am.Config{Sources: am.SourcesConfig{Store: "etcd"}}, database, nil)
	assert.Error(t, err)
}

func TestPrintDBStats(t *testing.T) {
	q, database := newTestQueue(t)
	admitJob(t, q, "results/FRM-1/B-1.json", "etag-1")
	deadLetterJob(t, q, "results/FRM-2/B-2.json")

	var out bytes.Buffer
	require.NoError(t, printDBStats(context.Background(), &out, database))
	assert.Contains(t, out.String(), "Schema version:      005")
	assert.Regexp(t, `ingestion_jobs:\s+2`, out.String())
	assert.Regexp(t, `dead_letters:\s+1`, out.String())
	assert.Regexp(t, `queued\s+1`, out.String())
	assert.Regexp(t, `failed\s+1`, out.String())
}

func TestOpenDatabaseMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "croplink.db")
	database, err := openDatabase(path)
	require.NoError(t, err)
	defer database.Close()

	version, err := schemaVersion(context.Background(), database)
	require.NoError(t, err)
	assert.Equal(t, "005", version)
}

func TestPrintPendingMigrations(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "croplink.db"), nil)
	require.NoError(t, err)
	defer database.Close()

	var out bytes.Buffer
	require.NoError(t, printPendingMigrations(&out, database))
	assert.Contains(t, out.String(), "6 pending migration(s)")
	assert.Contains(t, out.String(), "005  005_create_reference_entities.sql")

	require.NoError(t, db.Migrate(database, nil))
	out.Reset()
	require.NoError(t, printPendingMigrations(&out, database))
	assert.Contains(t, out.String(), "No pending migrations")
}

package metrics

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordUnmatched("container")
	m.RecordAdmission("qc-result", true)
	m.RecordCacheRefresh(nil)
	m.RecordLinkageFailure("farmer_id", "not_found")
	m.RecordRetry("qc-result", "linkage_error")
	m.RecordDeadLetter("qc-result", "linkage_error")
	m.ObserveJob("qc-result", OutcomeCompleted, 250*time.Millisecond)
	m.RecordDocument("qc-result", false)
	m.WorkerBusy(1)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"croplink_ingest_unmatched_events_total",
		"croplink_jobs_admitted_total",
		"croplink_config_cache_refreshes_total",
		"croplink_linkage_failures_total",
		"croplink_job_retries_total",
		"croplink_deadletter_admissions_total",
		"croplink_job_duration_seconds",
		"croplink_documents_stored_total",
		"croplink_workers_busy",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordUnmatched("container")
	m.RecordUnmatched("container")
	m.RecordUnmatched("source")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnmatchedEvents.WithLabelValues("container")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnmatchedEvents.WithLabelValues("source")))

	m.RecordCacheRefresh(errors.New("store unreachable"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigCacheRefreshFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConfigCacheRefreshes))

	m.RecordAdmission("qc-result", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsAdmitted.WithLabelValues("qc-result", "false")))

	m.RecordDocument("qc-result", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsStored.WithLabelValues("qc-result", "true")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUnmatched("container")
		m.RecordAdmission("s", true)
		m.RecordCacheRefresh(nil)
		m.RecordLinkageFailure("farmer_id", "not_found")
		m.RecordRetry("s", "x")
		m.RecordDeadLetter("s", "x")
		m.ObserveJob("s", OutcomeRetried, time.Second)
		m.RecordDocument("s", false)
		m.WorkerBusy(-1)
	})
}

// Package metrics defines the Prometheus instruments of the ingestion pipeline.
//
// All recording methods are nil-safe so components can be built without
// metrics in tests and small tools.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every croplink metric.
const Namespace = "croplink"

// Outcome labels for JobDuration.
const (
	OutcomeCompleted    = "completed"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

// Metrics holds all Prometheus instruments for the pipeline.
type Metrics struct {
	// Intake
	UnmatchedEvents *prometheus.CounterVec
	JobsAdmitted    *prometheus.CounterVec

	// Config cache
	ConfigCacheRefreshFailures prometheus.Counter
	ConfigCacheRefreshes       prometheus.Counter

	// Processing
	LinkageFailures      *prometheus.CounterVec
	JobRetries           *prometheus.CounterVec
	DeadLetterAdmissions *prometheus.CounterVec
	JobDuration          *prometheus.HistogramVec

	// Storage
	DocumentsStored *prometheus.CounterVec

	// Workers
	WorkersBusy prometheus.Gauge
}

// New creates and registers all pipeline metrics on reg.
// A nil reg registers on prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initIntakeMetrics(factory)
	m.initCacheMetrics(factory)
	m.initProcessingMetrics(factory)
	m.initStorageMetrics(factory)

	return m
}

func (m *Metrics) initIntakeMetrics(factory promauto.Factory) {
	m.UnmatchedEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "unmatched_events_total",
			Help:      "Events and pull ticks for which no enabled source config matched",
		},
		[]string{"kind"},
	)

	m.JobsAdmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_admitted_total",
			Help:      "Candidates passed through the idempotency gate, by whether a new job was created",
		},
		[]string{"source_id", "created"},
	)
}

func (m *Metrics) initCacheMetrics(factory promauto.Factory) {
	m.ConfigCacheRefreshFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "config_cache_refresh_failures_total",
			Help:      "Source config cache refreshes that failed and kept serving the stale snapshot",
		},
	)

	m.ConfigCacheRefreshes = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "config_cache_refreshes_total",
			Help:      "Successful source config cache refreshes",
		},
	)
}

func (m *Metrics) initProcessingMetrics(factory promauto.Factory) {
	m.LinkageFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "linkage",
			Name:      "failures_total",
			Help:      "Linkage validation failures by field and failure kind",
		},
		[]string{"field", "error_type"},
	)

	m.JobRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "job_retries_total",
			Help:      "Failed attempts that were re-queued with backoff",
		},
		[]string{"source_id", "error_type"},
	)

	m.DeadLetterAdmissions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "deadletter",
			Name:      "admissions_total",
			Help:      "Jobs moved to the dead-letter store",
		},
		[]string{"source_id", "error_type"},
	)

	m.JobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of a single processing attempt",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source_id", "outcome"},
	)

	m.WorkersBusy = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "workers_busy",
			Help:      "Workers currently processing a job",
		},
	)
}

func (m *Metrics) initStorageMetrics(factory promauto.Factory) {
	m.DocumentsStored = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "documents_stored_total",
			Help:      "Document upserts, by whether the content hash was already known",
		},
		[]string{"source_id", "duplicate"},
	)
}

// RecordUnmatched counts an event or tick that matched no source config.
// kind is "container" for unknown storage containers, "path" for paths no
// pattern accepts, and "source" for pull ticks of unknown sources.
func (m *Metrics) RecordUnmatched(kind string) {
	if m == nil {
		return
	}
	m.UnmatchedEvents.WithLabelValues(kind).Inc()
}

// RecordAdmission counts a pass through the idempotency gate.
func (m *Metrics) RecordAdmission(sourceID string, created bool) {
	if m == nil {
		return
	}
	m.JobsAdmitted.WithLabelValues(sourceID, strconv.FormatBool(created)).Inc()
}

// RecordCacheRefresh counts a config cache refresh attempt.
func (m *Metrics) RecordCacheRefresh(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ConfigCacheRefreshFailures.Inc()
		return
	}
	m.ConfigCacheRefreshes.Inc()
}

// RecordLinkageFailure counts a failed linkage field.
func (m *Metrics) RecordLinkageFailure(field, errorType string) {
	if m == nil {
		return
	}
	m.LinkageFailures.WithLabelValues(field, errorType).Inc()
}

// RecordRetry counts a re-queued attempt.
func (m *Metrics) RecordRetry(sourceID, errorType string) {
	if m == nil {
		return
	}
	m.JobRetries.WithLabelValues(sourceID, errorType).Inc()
}

// RecordDeadLetter counts a dead-letter admission.
func (m *Metrics) RecordDeadLetter(sourceID, errorType string) {
	if m == nil {
		return
	}
	m.DeadLetterAdmissions.WithLabelValues(sourceID, errorType).Inc()
}

// ObserveJob records the duration of one processing attempt.
func (m *Metrics) ObserveJob(sourceID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(sourceID, outcome).Observe(d.Seconds())
}

// RecordDocument counts a document upsert.
func (m *Metrics) RecordDocument(sourceID string, duplicate bool) {
	if m == nil {
		return
	}
	m.DocumentsStored.WithLabelValues(sourceID, strconv.FormatBool(duplicate)).Inc()
}

// WorkerBusy adjusts the busy-worker gauge by delta.
func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.WorkersBusy.Add(delta)
}

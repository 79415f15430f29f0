package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/croplink/content"
	"github.com/teranos/croplink/docstore"
	"github.com/teranos/croplink/errors"
	croptest "github.com/teranos/croplink/internal/testing"
	"github.com/teranos/croplink/linkage"
	"github.com/teranos/croplink/pulse/async"
)

const qcBody = `{"factory": "FAC-9", "result": {"grade": "A"}}`

type pipelineHarness struct {
	*harness
	landing  string
	docs     *docstore.Store
	pipeline *Pipeline
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	h := newHarness(t, qcConfig())
	landing := t.TempDir()

	fetcher, err := content.NewGetterFetcher(landing, nil)
	require.NoError(t, err)
	processor := content.NewProcessor(fetcher, nil, nil, content.NewSchemaValidator(t.TempDir()), nil)
	docs := docstore.NewStore(h.db, h.metrics, nil)
	linker := linkage.NewValidator(linkage.SQLRepositories(h.db), h.metrics, nil)

	return &pipelineHarness{
		harness:  h,
		landing:  landing,
		docs:     docs,
		pipeline: NewPipeline(h.cache, processor, linker, docs, PipelineConfig{AttemptTimeout: 5 * time.Second}, nil),
	}
}

func (h *pipelineHarness) land(t *testing.T, path, body string) {
	t.Helper()
	full := filepath.Join(h.landing, "qc-landing", filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
}

func (h *pipelineHarness) deliver(t *testing.T, path, etag string) *async.Job {
	t.Helper()
	res, err := h.adapter.HandleEvents(context.Background(), []StorageEvent{blobEvent("e-"+etag, "qc-landing", path, etag)})
	require.NoError(t, err)
	require.Equal(t, 1, res.Accepted)
	job, err := h.queue.Store().GetJobByDelivery(context.Background(), path, etag)
	require.NoError(t, err)
	return job
}

func TestPipelineStoresLinkedDocument(t *testing.T) {
	h := newPipelineHarness(t)
	croptest.SeedReference(t, h.db, "farmers", "FRM-001")
	croptest.SeedReference(t, h.db, "factories", "FAC-9")
	h.land(t, "results/FRM-001/B-77.json", qcBody)

	job := h.deliver(t, "results/FRM-001/B-77.json", "etag-1")
	require.NoError(t, h.pipeline.Execute(context.Background(), job))
	require.NotEmpty(t, job.DocumentID)

	doc, err := h.docs.Get(context.Background(), job.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "qc-result", doc.SourceID)
	assert.Equal(t, job.ID, doc.IngestionID)
	assert.Equal(t, "FRM-001", doc.FarmerID)
	assert.Equal(t, "FAC-9", doc.FactoryID)
	assert.Empty(t, doc.RegionID)
	assert.Equal(t, "qc-results", doc.IndexName)
	assert.Equal(t, content.Hash([]byte(qcBody)), doc.ContentHash)
	assert.Contains(t, doc.RawLocation, "qc-landing/results/FRM-001/B-77.json")
	assert.Equal(t, map[string]any{
		"grade":      "A",
		"factory_id": "FAC-9",
		"farmer_id":  "FRM-001",
		"batch_id":   "B-77",
	}, doc.ExtractedFields)
}

func TestPipelineDeduplicatesContentAcrossPaths(t *testing.T) {
	h := newPipelineHarness(t)
	croptest.SeedReference(t, h.db, "farmers", "FRM-001")
	croptest.SeedReference(t, h.db, "factories", "FAC-9")
	h.land(t, "results/FRM-001/B-77.json", qcBody)
	// Same document, different key order and whitespace
	h.land(t, "results/FRM-001/B-78.json", `{"result":{"grade":"A"},"factory":"FAC-9"}`)

	first := h.deliver(t, "results/FRM-001/B-77.json", "etag-1")
	second := h.deliver(t, "results/FRM-001/B-78.json", "etag-1")
	require.NoError(t, h.pipeline.Execute(context.Background(), first))
	require.NoError(t, h.pipeline.Execute(context.Background(), second))

	assert.Equal(t, first.DocumentID, second.DocumentID)
	n, err := h.docs.Count(context.Background(), "qc-result")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DocumentsStored.WithLabelValues("qc-result", "true")))
}

func TestPipelineLinkageFailureIsRetryable(t *testing.T) {
	h := newPipelineHarness(t)
	croptest.SeedReference(t, h.db, "factories", "FAC-9")
	h.land(t, "results/FRM-404/B-77.json", qcBody)

	job := h.deliver(t, "results/FRM-404/B-77.json", "etag-1")
	err := h.pipeline.Execute(context.Background(), job)
	require.Error(t, err)

	ec := async.ClassifyError(err)
	assert.True(t, ec.Retryable)
	assert.Equal(t, async.ErrorCode(linkage.ErrorTypeNotFound), ec.Code)
	assert.Equal(t, "farmer_id", ec.FieldName)
	assert.Equal(t, "FRM-404", ec.FieldValue)
	assert.Empty(t, job.DocumentID)

	n, err := h.docs.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipelineMalformedContentIsTerminal(t *testing.T) {
	h := newPipelineHarness(t)
	h.land(t, "results/FRM-001/B-77.json", `{"factory": "FAC-9", "result": `)

	job := h.deliver(t, "results/FRM-001/B-77.json", "etag-1")
	err := h.pipeline.Execute(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsTerminal(err))
	assert.Equal(t, async.ErrorCodeMalformedContent, async.ClassifyError(err).Code)
}

func TestPipelineMissingArtifactIsRetryable(t *testing.T) {
	h := newPipelineHarness(t)

	job := h.deliver(t, "results/FRM-001/B-77.json", "etag-1")
	err := h.pipeline.Execute(context.Background(), job)
	require.Error(t, err)
	assert.False(t, errors.IsTerminal(err))
}

func TestPipelineUnknownSourceIsRetryable(t *testing.T) {
	h := newPipelineHarness(t)

	job, err := async.NewJob(async.Delivery{
		SourceID:            "retired-source",
		Path:                "results/x.json",
		ContentVersionToken: "etag-1",
	}, 3, testNow)
	require.NoError(t, err)

	err = h.pipeline.Execute(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.True(t, async.ClassifyError(err).Retryable)
}

func TestPipelineThroughWorkerPool(t *testing.T) {
	h := newPipelineHarness(t)
	croptest.SeedReference(t, h.db, "farmers", "FRM-001")
	croptest.SeedReference(t, h.db, "factories", "FAC-9")
	h.land(t, "results/FRM-001/B-77.json", qcBody)
	h.land(t, "results/FRM-002/B-78.json", `{"factory": "FAC-9", "result": {"grade": "B"}}`)

	router := async.NewRetryRouter(h.queue, async.RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond}, h.metrics, nil)
	pool := async.NewWorkerPool(context.Background(), h.queue, h.pipeline, router, async.WorkerPoolConfig{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	}, h.metrics, nil)
	pool.Start()
	defer pool.Stop()

	ok := h.deliver(t, "results/FRM-001/B-77.json", "etag-1")
	unlinked := h.deliver(t, "results/FRM-002/B-78.json", "etag-1")

	require.Eventually(t, func() bool {
		job, err := h.queue.GetJob(context.Background(), ok.ID)
		return err == nil && job.Status == async.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	done, err := h.queue.GetJob(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, done.DocumentID)

	// FRM-002 never resolves; the retry waits on the queue clock
	require.Eventually(t, func() bool {
		job, err := h.queue.GetJob(context.Background(), unlinked.ID)
		return err == nil && job.AttemptCount == 1 && job.Status == async.JobStatusQueued
	}, 5*time.Second, 10*time.Millisecond)

	job, err := h.queue.GetJob(context.Background(), unlinked.ID)
	require.NoError(t, err)
	assert.Equal(t, linkage.ErrorTypeNotFound, job.LastErrorType)
	assert.Empty(t, job.DocumentID)
}

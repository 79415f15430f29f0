package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/croplink/content"
	"github.com/teranos/croplink/docstore"
	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/linkage"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/pulse/async"
	"github.com/teranos/croplink/sourcecfg"
)

// PipelineConfig tunes job execution.
type PipelineConfig struct {
	// AttemptTimeout bounds one attempt, extraction-agent call included.
	// Zero means no bound beyond the worker's context.
	AttemptTimeout time.Duration
}

// Pipeline implements async.JobHandler: process, link, store. Steps run
// strictly in order and any failure is returned for the retry router to
// classify.
type Pipeline struct {
	sources   *sourcecfg.Cache
	processor *content.Processor
	linker    *linkage.Validator
	docs      *docstore.Store
	cfg       PipelineConfig
	log       *zap.SugaredLogger
}

// NewPipeline creates the ingestion job handler.
func NewPipeline(sources *sourcecfg.Cache, processor *content.Processor, linker *linkage.Validator, docs *docstore.Store, cfg PipelineConfig, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{
		sources:   sources,
		processor: processor,
		linker:    linker,
		docs:      docs,
		cfg:       cfg,
		log:       logger.AddIngestSymbol(log.Named("pipeline")),
	}
}

var _ async.JobHandler = (*Pipeline)(nil)

// Execute processes one claimed job end to end and records the resulting
// document id on the job.
func (p *Pipeline) Execute(ctx context.Context, job *async.Job) error {
	if p.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
	}

	// A source disabled after admission stays retryable so re-enabling it
	// within the retry window recovers the job.
	src, err := p.sources.LookupByID(ctx, job.SourceID)
	if err != nil {
		return errors.Wrapf(err, "source %s unavailable for job %s", job.SourceID, job.ShortID())
	}
	cfg := src.Config

	res, err := p.processor.Process(ctx, src, content.Ref{
		SourceID:  job.SourceID,
		Container: job.Container,
		Path:      job.Path,
		Metadata:  job.Metadata,
	})
	if err != nil {
		return err
	}

	tenant := job.TenantID
	if tenant == "" {
		tenant = cfg.TenantID
	}
	links, err := p.linker.Validate(ctx, tenant, cfg.Linkage, res.Fields)
	if err != nil {
		return err
	}

	doc, duplicate, err := p.docs.Upsert(ctx, &docstore.Document{
		SourceID:        job.SourceID,
		TenantID:        tenant,
		ContentHash:     res.ContentHash,
		FarmerID:        links[sourcecfg.LinkFarmer],
		FactoryID:       links[sourcecfg.LinkFactory],
		GradingModelID:  links[sourcecfg.LinkGradingModel],
		RegionID:        links[sourcecfg.LinkRegion],
		ExtractedFields: res.Fields,
		IngestionID:     job.ID,
		RawLocation:     res.Location,
		IndexName:       cfg.Storage.Index,
	})
	if err != nil {
		return errors.WithDetail(err, fmt.Sprintf("Content hash: %s", res.ContentHash))
	}
	job.DocumentID = doc.ID

	logger.WithContext(p.log, ctx).Debugw("Document stored",
		logger.FieldDocumentID, doc.ID,
		"duplicate", duplicate,
		"size", res.Size)
	return nil
}

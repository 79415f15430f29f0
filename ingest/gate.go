package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/metrics"
	"github.com/teranos/croplink/pulse/async"
	"github.com/teranos/croplink/sourcecfg"
)

// Gate admits candidates into the queue at most once per
// (path, content version token). The queue's unique insert is the only
// coordination point; there is no application lock.
type Gate struct {
	queue       *async.Queue
	maxAttempts int
	metrics     *metrics.Metrics
	log         *zap.SugaredLogger
}

// NewGate creates a gate creating jobs with maxAttempts attempts.
func NewGate(queue *async.Queue, maxAttempts int, m *metrics.Metrics, log *zap.SugaredLogger) *Gate {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Gate{queue: queue, maxAttempts: maxAttempts, metrics: m, log: log}
}

// Admit creates a job for c under src. A repeated delivery returns the
// existing job with created=false.
func (g *Gate) Admit(ctx context.Context, c Candidate, src *sourcecfg.Source) (*async.Job, bool, error) {
	cfg := src.Config
	job, err := async.NewJob(async.Delivery{
		SourceID:            cfg.SourceID,
		TenantID:            cfg.TenantID,
		Mode:                string(cfg.Ingestion.Mode),
		Container:           c.Container,
		Path:                c.Path,
		ContentVersionToken: c.ContentVersionToken,
		Size:                c.Size,
		ObservedAt:          c.ObservedAt,
		Metadata:            c.Metadata,
	}, g.maxAttempts, g.queue.Now())
	if err != nil {
		return nil, false, err
	}

	job, created, err := g.queue.Admit(ctx, job)
	if err != nil {
		return nil, false, errors.WithDetail(err, fmt.Sprintf("Source: %s, token: %s", cfg.SourceID, c.ContentVersionToken))
	}
	g.metrics.RecordAdmission(cfg.SourceID, created)

	if created {
		g.log.Infow("Job admitted",
			logger.FieldJobID, job.ID,
			logger.FieldSourceID, cfg.SourceID,
			logger.FieldPath, c.Path,
			logger.FieldTraceID, job.TraceID)
	} else {
		g.log.Debugw("Duplicate delivery suppressed",
			logger.FieldJobID, job.ID,
			logger.FieldSourceID, cfg.SourceID,
			logger.FieldPath, c.Path,
			"token", c.ContentVersionToken)
	}
	return job, created, nil
}

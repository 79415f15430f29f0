// Package content fetches the artifact behind an ingestion job, hashes its
// canonical form, extracts document fields with the strategy the source
// declares, and validates them.
package content

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/sourcecfg"
)

// MetaScheduledAt is the metadata key carrying a pull's scheduled instant.
const MetaScheduledAt = "scheduled_at"

// Result is a processed artifact ready for linkage.
type Result struct {
	Fields      map[string]any
	ContentHash string
	ContentType string
	Size        int
	Location    string
}

// Processor wires fetchers and extractors by source mode and strategy. It
// holds no extraction logic of its own.
type Processor struct {
	fetchers   map[sourcecfg.Mode]Fetcher
	extractors map[sourcecfg.Strategy]Extractor
	schemas    *SchemaValidator
	log        *zap.SugaredLogger
}

// NewProcessor creates a processor. Event-triggered sources read through
// landing, scheduled pulls through pull.
func NewProcessor(landing, pull Fetcher, ag Agent, schemas *SchemaValidator, log *zap.SugaredLogger) *Processor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if schemas == nil {
		schemas = NewSchemaValidator("")
	}
	return &Processor{
		fetchers: map[sourcecfg.Mode]Fetcher{
			sourcecfg.ModeEventTriggered: landing,
			sourcecfg.ModeScheduledPull:  pull,
		},
		extractors: map[sourcecfg.Strategy]Extractor{
			sourcecfg.StrategyDirect: DirectExtractor{},
			sourcecfg.StrategyAgent:  AgentExtractor{Agent: ag},
		},
		schemas: schemas,
		log:     log.Named("content"),
	}
}

// Process runs fetch, hash, extract and validate for one artifact.
func (p *Processor) Process(ctx context.Context, src *sourcecfg.Source, ref Ref) (*Result, error) {
	cfg := src.Config

	fetcher := p.fetchers[cfg.Ingestion.Mode]
	if fetcher == nil {
		return nil, errors.MarkTerminal(errors.Newf("no fetcher for mode %q", cfg.Ingestion.Mode))
	}
	strategy := cfg.Transformation.EffectiveStrategy()
	extractor := p.extractors[strategy]
	if extractor == nil {
		return nil, errors.MarkTerminal(errors.Newf("unknown extraction strategy %q", strategy))
	}

	art, err := fetcher.Fetch(ctx, src, ref)
	if err != nil {
		return nil, err
	}
	hash := Hash(art.Body)

	fields, err := extractor.Extract(ctx, src, ref, art)
	if err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("Strategy: %s, location: %s", strategy, art.Location))
	}

	if err := p.schemas.Validate(src, fields); err != nil {
		return nil, err
	}

	p.log.Debugw("Artifact processed",
		logger.FieldSourceID, cfg.SourceID,
		"strategy", strategy,
		"size", len(art.Body),
		"fields", len(fields))

	return &Result{
		Fields:      fields,
		ContentHash: hash,
		ContentType: art.ContentType,
		Size:        len(art.Body),
		Location:    art.Location,
	}, nil
}

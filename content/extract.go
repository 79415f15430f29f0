package content

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/teranos/croplink/ai/agent"
	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/sourcecfg"
)

// Extractor turns a fetched artifact into document fields.
type Extractor interface {
	Extract(ctx context.Context, src *sourcecfg.Source, ref Ref, art *Artifact) (map[string]any, error)
}

// DirectExtractor copies fields out of a JSON body by dotted path. With no
// field mappings the top-level object is copied as is.
type DirectExtractor struct{}

// Extract applies the source's field mappings. A body that is not JSON is
// terminal. Mapped paths absent from the body leave the field unset.
func (DirectExtractor) Extract(_ context.Context, src *sourcecfg.Source, ref Ref, art *Artifact) (map[string]any, error) {
	doc, err := decodeJSON(art.Body)
	if err != nil {
		return nil, terminal(err, "artifact is not valid JSON")
	}

	mappings := src.Config.Transformation.FieldMappings
	fields := make(map[string]any, len(mappings))

	if len(mappings) == 0 {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, terminal(nil, "artifact is not a JSON object")
		}
		for k, v := range obj {
			fields[k] = v
		}
	} else {
		for out, p := range mappings {
			if v, ok := lookup(doc, p); ok {
				fields[out] = v
			}
		}
	}

	mergeMetadata(fields, ref.Metadata)
	return fields, nil
}

// lookup resolves a dotted path; numeric segments index arrays.
func lookup(doc any, dotted string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(dotted, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// mergeMetadata fills fields the body did not provide from path fields or
// pull parameters. Body values win.
func mergeMetadata(fields map[string]any, meta map[string]string) {
	for k, v := range meta {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
}

// Agent is the extraction collaborator.
type Agent interface {
	Extract(ctx context.Context, req agent.Request) (map[string]any, error)
}

// AgentExtractor delegates extraction to the agent the source names.
type AgentExtractor struct {
	Agent Agent
}

// Extract sends the artifact and the source's schema to the agent.
func (e AgentExtractor) Extract(ctx context.Context, src *sourcecfg.Source, ref Ref, art *Artifact) (map[string]any, error) {
	if e.Agent == nil {
		return nil, errors.New("no extraction agent configured")
	}
	cfg := src.Config

	fieldNames := make([]string, 0, len(cfg.Transformation.FieldMappings))
	for k := range cfg.Transformation.FieldMappings {
		fieldNames = append(fieldNames, k)
	}
	sort.Strings(fieldNames)

	fields, err := e.Agent.Extract(ctx, agent.Request{
		AgentID:     cfg.Transformation.AgentID,
		SourceID:    cfg.SourceID,
		Path:        ref.Path,
		ContentType: art.ContentType,
		Body:        art.Body,
		Schema:      cfg.Validation.Schema,
		Fields:      fieldNames,
	})
	if err != nil {
		return nil, err
	}

	// Agents return plain floats; normalise to the json.Number form the
	// direct strategy produces so hashing and storage agree.
	normalized, err := normalize(fields)
	if err != nil {
		return nil, err
	}
	mergeMetadata(normalized, ref.Metadata)
	return normalized, nil
}

func normalize(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "agent returned unencodable fields")
	}
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, errors.Wrap(err, "agent returned unencodable fields")
	}
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return nil, errors.New("agent returned no fields")
	}
	return m, nil
}

// Package sourcecfg holds the declarative source configuration model, the
// read-only stores it is loaded from, the path pattern matcher compiled from
// it, and the TTL cache the pipeline reads through.
package sourcecfg

import (
	"fmt"
	"strings"
)

// Mode is how a source delivers data.
type Mode string

const (
	ModeEventTriggered Mode = "event-triggered"
	ModeScheduledPull  Mode = "scheduled-pull"
)

// Strategy selects how fields are extracted from an artifact.
type Strategy string

const (
	StrategyDirect Strategy = "direct"
	StrategyAgent  Strategy = "agent"
)

// LinkageKind names a referenced domain entity.
type LinkageKind string

const (
	LinkFarmer       LinkageKind = "farmer"
	LinkFactory      LinkageKind = "factory"
	LinkGradingModel LinkageKind = "grading_model"
	LinkRegion       LinkageKind = "region"
)

// LinkageOrder is the fixed order linkage fields are validated in.
var LinkageOrder = []LinkageKind{LinkFarmer, LinkFactory, LinkGradingModel, LinkRegion}

// SourceConfig describes one ingestible data source. Records are written by
// the deploy tool and are read-only here.
type SourceConfig struct {
	SourceID       string         `json:"source_id" yaml:"source_id"`
	Version        string         `json:"version,omitempty" yaml:"version,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	DisplayName    string         `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	Ingestion      Ingestion      `json:"ingestion" yaml:"ingestion"`
	Validation     Validation     `json:"validation,omitempty" yaml:"validation,omitempty"`
	Transformation Transformation `json:"transformation,omitempty" yaml:"transformation,omitempty"`
	Storage        Storage        `json:"storage,omitempty" yaml:"storage,omitempty"`
	Linkage        []LinkageField `json:"linkage,omitempty" yaml:"linkage,omitempty"`
}

// Ingestion holds the mode-specific delivery settings.
type Ingestion struct {
	Mode Mode `json:"mode" yaml:"mode"`

	// event-triggered
	LandingContainer string      `json:"landing_container,omitempty" yaml:"landing_container,omitempty"`
	PathPattern      PathPattern `json:"path_pattern,omitempty" yaml:"path_pattern,omitempty"`

	// scheduled-pull
	Schedule  string     `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Request   *Request   `json:"request,omitempty" yaml:"request,omitempty"`
	Iteration *Iteration `json:"iteration,omitempty" yaml:"iteration,omitempty"`
}

// PathPattern is a literal template with {field} placeholders. Only Fields
// are reported by the compiled matcher.
type PathPattern struct {
	Template string   `json:"template" yaml:"template"`
	Fields   []string `json:"fields" yaml:"fields"`
}

// Request describes the third-party endpoint a scheduled pull calls.
// URL may contain {param} placeholders filled from the iteration.
type Request struct {
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Iteration fans one tick out over a dynamically resolved list.
type Iteration struct {
	Resolver string `json:"resolver" yaml:"resolver"` // e.g. "active_regions"
	Param    string `json:"param" yaml:"param"`
}

// Validation selects the schema extracted fields must satisfy.
type Validation struct {
	Schema    map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
	SchemaRef string         `json:"schema_ref,omitempty" yaml:"schema_ref,omitempty"`
	Strict    bool           `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// Transformation selects the extraction strategy. FieldMappings maps an
// output field to a dotted path in the artifact body; a direct strategy
// without mappings copies the top-level object.
type Transformation struct {
	Strategy      Strategy          `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	AgentID       string            `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	FieldMappings map[string]string `json:"field_mappings,omitempty" yaml:"field_mappings,omitempty"`
}

// Storage names where raw artifacts and documents land.
type Storage struct {
	RawLocation   string `json:"raw_location,omitempty" yaml:"raw_location,omitempty"`
	Index         string `json:"index,omitempty" yaml:"index,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
}

// LinkageField declares a reference to validate. Field defaults to
// "<kind>_id".
type LinkageField struct {
	Kind  LinkageKind `json:"kind" yaml:"kind"`
	Field string      `json:"field,omitempty" yaml:"field,omitempty"`
}

// FieldName returns the document field carrying the reference.
func (l LinkageField) FieldName() string {
	if l.Field != "" {
		return l.Field
	}
	return string(l.Kind) + "_id"
}

// EffectiveStrategy returns the configured strategy, defaulting to direct.
func (t Transformation) EffectiveStrategy() Strategy {
	if t.Strategy == "" {
		return StrategyDirect
	}
	return t.Strategy
}

// HasSchema reports whether extracted fields are schema-validated.
func (v Validation) HasSchema() bool {
	return len(v.Schema) > 0 || v.SchemaRef != ""
}

// Source is a validated config with its compiled path matcher. Matcher is
// nil for scheduled-pull sources.
type Source struct {
	Config  *SourceConfig
	Matcher *PathMatcher
}

// ID returns the source id.
func (s *Source) ID() string { return s.Config.SourceID }

// ConfigError reports every problem found in one source config.
type ConfigError struct {
	SourceID string
	Problems []string
}

func (e *ConfigError) Error() string {
	id := e.SourceID
	if id == "" {
		id = "<unnamed>"
	}
	return fmt.Sprintf("source config %s invalid: %s", id, strings.Join(e.Problems, "; "))
}

package sourcecfg

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/robfig/cron/v3"
)

// Resolvers known to the pull adapter.
var KnownResolvers = []string{"active_regions"}

// Validate checks cfg and reports every problem at once in a *ConfigError.
func Validate(cfg *SourceConfig) error {
	var p []string
	add := func(format string, args ...any) { p = append(p, fmt.Sprintf(format, args...)) }

	if cfg.SourceID == "" {
		add("source_id is required")
	} else if strings.ContainsAny(cfg.SourceID, "/ \t") {
		add("source_id %q must not contain '/' or whitespace", cfg.SourceID)
	}
	if cfg.Version != "" {
		if _, err := semver.NewVersion(cfg.Version); err != nil {
			add("version %q is not a semantic version", cfg.Version)
		}
	}

	in := cfg.Ingestion
	switch in.Mode {
	case ModeEventTriggered:
		if in.LandingContainer == "" {
			add("ingestion.landing_container is required for %s", in.Mode)
		}
		if _, err := CompilePattern(in.PathPattern.Template, in.PathPattern.Fields); err != nil {
			add("ingestion.path_pattern: %v", err)
		}
		if in.Schedule != "" || in.Request != nil {
			add("ingestion.schedule and ingestion.request are only valid for %s", ModeScheduledPull)
		}
	case ModeScheduledPull:
		if in.Schedule == "" {
			add("ingestion.schedule is required for %s", in.Mode)
		} else if _, err := cron.ParseStandard(in.Schedule); err != nil {
			add("ingestion.schedule %q: %v", in.Schedule, err)
		}
		if in.Request == nil || in.Request.URL == "" {
			add("ingestion.request.url is required for %s", in.Mode)
		} else if u, err := url.Parse(strings.NewReplacer("{", "", "}", "").Replace(in.Request.URL)); err != nil || u.Host == "" {
			add("ingestion.request.url %q is not an absolute URL", in.Request.URL)
		}
		if it := in.Iteration; it != nil {
			if !slices.Contains(KnownResolvers, it.Resolver) {
				add("ingestion.iteration.resolver %q is unknown (known: %s)", it.Resolver, strings.Join(KnownResolvers, ", "))
			}
			if it.Param == "" {
				add("ingestion.iteration.param is required")
			}
		}
		if in.LandingContainer != "" {
			add("ingestion.landing_container is only valid for %s", ModeEventTriggered)
		}
	case "":
		add("ingestion.mode is required")
	default:
		add("ingestion.mode %q is unknown", in.Mode)
	}

	tr := cfg.Transformation
	switch tr.EffectiveStrategy() {
	case StrategyDirect:
	case StrategyAgent:
		if tr.AgentID == "" {
			add("transformation.agent_id is required for the agent strategy")
		}
	default:
		add("transformation.strategy %q is unknown", tr.Strategy)
	}

	if len(cfg.Validation.Schema) > 0 && cfg.Validation.SchemaRef != "" {
		add("validation.schema and validation.schema_ref are mutually exclusive")
	}
	if cfg.Validation.Strict && len(tr.FieldMappings) == 0 {
		add("validation.strict requires transformation.field_mappings")
	}

	if cfg.Storage.RetentionDays < 0 {
		add("storage.retention_days must be non-negative")
	}

	seen := map[LinkageKind]bool{}
	for _, l := range cfg.Linkage {
		if !slices.Contains(LinkageOrder, l.Kind) {
			add("linkage kind %q is unknown", l.Kind)
			continue
		}
		if seen[l.Kind] {
			add("linkage kind %q declared twice", l.Kind)
		}
		seen[l.Kind] = true
	}

	if len(p) > 0 {
		return &ConfigError{SourceID: cfg.SourceID, Problems: p}
	}
	return nil
}

// Compile validates cfg and compiles its path matcher.
func Compile(cfg *SourceConfig) (*Source, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	src := &Source{Config: cfg}
	if cfg.Ingestion.Mode == ModeEventTriggered {
		m, err := CompilePattern(cfg.Ingestion.PathPattern.Template, cfg.Ingestion.PathPattern.Fields)
		if err != nil {
			return nil, &ConfigError{SourceID: cfg.SourceID, Problems: []string{err.Error()}}
		}
		src.Matcher = m
	}
	return src, nil
}

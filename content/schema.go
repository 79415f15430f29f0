package content

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/sourcecfg"
)

var printer = message.NewPrinter(language.English)

// SchemaValidator checks extracted fields against a source's schema.
// Compiled schemas are cached by content, so an edited config recompiles
// and an unchanged one does not.
type SchemaValidator struct {
	baseDir string

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidator creates a validator resolving relative schema_ref
// paths against baseDir.
func NewSchemaValidator(baseDir string) *SchemaValidator {
	return &SchemaValidator{baseDir: baseDir, compiled: make(map[string]*jsonschema.Schema)}
}

// Validate returns a *ValidationError when fields violate the schema or,
// for strict sources, contain undeclared fields. Sources without a schema
// only get the strict check.
func (v *SchemaValidator) Validate(src *sourcecfg.Source, fields map[string]any) error {
	cfg := src.Config
	if cfg.Validation.Strict {
		if err := checkDeclared(cfg, fields); err != nil {
			return err
		}
	}
	if !cfg.Validation.HasSchema() {
		return nil
	}

	sch, err := v.schemaFor(cfg)
	if err != nil {
		err = errors.WithDetail(err, "Source ID: "+cfg.SourceID)
		return errors.Wrap(err, "failed to compile source schema")
	}

	err = sch.Validate(toInstance(fields))
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return errors.Wrap(err, "schema validation")
	}
	return fromSchemaError(verr, fields)
}

func (v *SchemaValidator) schemaFor(cfg *sourcecfg.SourceConfig) (*jsonschema.Schema, error) {
	key, loc, doc, err := v.resource(cfg.Validation)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if sch, ok := v.compiled[key]; ok {
		return sch, nil
	}

	c := jsonschema.NewCompiler()
	if doc != nil {
		if err := c.AddResource(loc, doc); err != nil {
			return nil, err
		}
	}
	sch, err := c.Compile(loc)
	if err != nil {
		return nil, err
	}
	v.compiled[key] = sch
	return sch, nil
}

// resource returns the cache key and location of the schema, plus the
// decoded document for inline schemas.
func (v *SchemaValidator) resource(val sourcecfg.Validation) (key, loc string, doc any, err error) {
	if val.SchemaRef != "" {
		ref := val.SchemaRef
		if !filepath.IsAbs(ref) && !strings.Contains(ref, "://") {
			ref = filepath.Join(v.baseDir, ref)
		}
		return "ref:" + ref, ref, nil, nil
	}

	raw, err := json.Marshal(val.Schema)
	if err != nil {
		return "", "", nil, errors.Wrap(err, "failed to encode inline schema")
	}
	doc, err = jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return "", "", nil, errors.Wrap(err, "failed to decode inline schema")
	}
	sum := sha256.Sum256(raw)
	key = "inline:" + hex.EncodeToString(sum[:])
	return key, "mem://" + key[len("inline:"):] + ".json", doc, nil
}

// toInstance converts fields to the value forms the validator accepts.
func toInstance(fields map[string]any) any {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fields
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fields
	}
	return inst
}

// fromSchemaError reduces a validation tree to its first leaf failure.
func fromSchemaError(verr *jsonschema.ValidationError, fields map[string]any) error {
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	field := strings.Join(leaf.InstanceLocation, ".")
	if req, ok := leaf.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		field = strings.Join(append(append([]string(nil), leaf.InstanceLocation...), req.Missing[0]), ".")
	}

	var value any
	if len(leaf.InstanceLocation) > 0 {
		value, _ = lookup(fields, strings.Join(leaf.InstanceLocation, "."))
	}

	return &ValidationError{
		Type:    ErrorTypeSchemaViolation,
		Field:   field,
		Value:   value,
		Message: leaf.ErrorKind.LocalizedString(printer),
	}
}

// checkDeclared rejects fields outside the mappings, path fields and
// iteration parameter of a strict source.
func checkDeclared(cfg *sourcecfg.SourceConfig, fields map[string]any) error {
	allowed := make(map[string]bool)
	for k := range cfg.Transformation.FieldMappings {
		allowed[k] = true
	}
	for _, f := range cfg.Ingestion.PathPattern.Fields {
		allowed[f] = true
	}
	if it := cfg.Ingestion.Iteration; it != nil {
		allowed[it.Param] = true
	}
	allowed[MetaScheduledAt] = cfg.Ingestion.Mode == sourcecfg.ModeScheduledPull

	var extra []string
	for k := range fields {
		if !allowed[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return &ValidationError{
		Type:    ErrorTypeUndeclaredField,
		Field:   extra[0],
		Value:   fields[extra[0]],
		Message: "field not declared in field_mappings: " + strings.Join(extra, ", "),
	}
}

// Package linkage checks that the entities a document references exist in
// their owning repositories before the document is stored.
package linkage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/metrics"
	"github.com/teranos/croplink/sourcecfg"
)

// Failure kinds.
const (
	ErrorTypeNotFound       = "not_found"
	ErrorTypeInactive       = "inactive"
	ErrorTypeTenantMismatch = "tenant_mismatch"
	ErrorTypeMissingValue   = "missing_value"
)

// Error is one unresolved linkage field. It is retryable: the referenced
// entity may be registered before the next attempt.
type Error struct {
	Kind  sourcecfg.LinkageKind
	Type  string
	Field string
	Value string
}

func (e *Error) Error() string {
	if e.Type == ErrorTypeMissingValue {
		return fmt.Sprintf("linkage %s: field %q has no value", e.Kind, e.Field)
	}
	return fmt.Sprintf("linkage %s: %s %q %s", e.Kind, e.Field, e.Value, describe(e.Type))
}

func (e *Error) ErrorType() string  { return e.Type }
func (e *Error) FieldName() string  { return e.Field }
func (e *Error) FieldValue() string { return e.Value }

func describe(errType string) string {
	switch errType {
	case ErrorTypeNotFound:
		return "not found"
	case ErrorTypeInactive:
		return "is inactive"
	case ErrorTypeTenantMismatch:
		return "belongs to another tenant"
	}
	return errType
}

// Links holds the resolved reference ids of a document.
type Links map[sourcecfg.LinkageKind]string

// Validator resolves linkage fields in sourcecfg.LinkageOrder and stops at
// the first failure.
type Validator struct {
	repos   map[sourcecfg.LinkageKind]Repository
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

// NewValidator creates a validator. m and log may be nil.
func NewValidator(repos map[sourcecfg.LinkageKind]Repository, m *metrics.Metrics, log *zap.SugaredLogger) *Validator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Validator{repos: repos, metrics: m, log: logger.AddLinkSymbol(log.Named("linkage"))}
}

// Validate resolves every declared linkage field of a document. Only the
// first failing field is reported and counted. Repository errors other
// than not-found are returned wrapped as transient failures.
func (v *Validator) Validate(ctx context.Context, tenantID string, declared []sourcecfg.LinkageField, fields map[string]any) (Links, error) {
	byKind := make(map[sourcecfg.LinkageKind]sourcecfg.LinkageField, len(declared))
	for _, lf := range declared {
		byKind[lf.Kind] = lf
	}

	links := make(Links, len(declared))
	for _, kind := range sourcecfg.LinkageOrder {
		lf, ok := byKind[kind]
		if !ok {
			continue
		}
		id, err := v.resolve(ctx, tenantID, lf, fields)
		if err != nil {
			var lerr *Error
			if errors.As(err, &lerr) {
				v.metrics.RecordLinkageFailure(lerr.Field, lerr.Type)
				v.log.Infow("Linkage failed",
					logger.FieldField, lerr.Field,
					logger.FieldErrorType, lerr.Type,
					"value", lerr.Value)
			}
			return nil, err
		}
		links[kind] = id
	}
	return links, nil
}

func (v *Validator) resolve(ctx context.Context, tenantID string, lf sourcecfg.LinkageField, fields map[string]any) (string, error) {
	name := lf.FieldName()
	id := stringValue(fields[name])
	if id == "" {
		return "", &Error{Kind: lf.Kind, Type: ErrorTypeMissingValue, Field: name}
	}

	repo := v.repos[lf.Kind]
	if repo == nil {
		return "", errors.Newf("no repository for linkage kind %q", lf.Kind)
	}

	entity, err := repo.Lookup(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return "", &Error{Kind: lf.Kind, Type: ErrorTypeNotFound, Field: name, Value: id}
	}
	if err != nil {
		return "", err
	}
	if !entity.Active {
		return "", &Error{Kind: lf.Kind, Type: ErrorTypeInactive, Field: name, Value: id}
	}
	if tenantID != "" && entity.TenantID != "" && entity.TenantID != tenantID {
		return "", &Error{Kind: lf.Kind, Type: ErrorTypeTenantMismatch, Field: name, Value: id}
	}
	return entity.ID, nil
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across croplink.
// Use these constants instead of raw strings so log queries stay stable.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldRequestID = "request_id"
	FieldTraceID   = "trace_id"

	// Tenancy and sources
	FieldTenantID = "tenant_id"
	FieldSourceID = "source_id"
	FieldMode     = "ingestion_mode"
	FieldVersion  = "version"

	// Candidates
	FieldPath    = "path"
	FieldToken   = "content_version_token"
	FieldEventID = "event_id"

	// Components
	FieldComponent = "component"
	FieldSymbol    = "symbol"

	// Processing
	FieldStrategy    = "strategy"
	FieldAttempt     = "attempt"
	FieldMaxAttempts = "max_attempts"
	FieldDocumentID  = "document_id"
	FieldContentHash = "content_hash"
	FieldDurationMS  = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorType = "error_type"
	FieldField     = "field"

	// Counts
	FieldCount = "count"

	// Status
	FieldStatus = "status"

	// Network
	FieldAddress = "address"
	FieldURL     = "url"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	requestIDKey contextKey = "logger_request_id"
	traceIDKey   contextKey = "logger_trace_id"
	sourceIDKey  contextKey = "logger_source_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithTraceID adds a trace ID to the context for logging.
// The trace ID follows a candidate from event receipt to stored document.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSourceID adds a source config ID to the context for logging
func WithSourceID(ctx context.Context, sourceID string) context.Context {
	return context.WithValue(ctx, sourceIDKey, sourceID)
}

// TraceIDFromContext returns the trace ID stored by WithTraceID, if any.
func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey).(string)
	return traceID
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		fields = append(fields, FieldTraceID, traceID)
	}
	if sourceID, ok := ctx.Value(sourceIDKey).(string); ok && sourceID != "" {
		fields = append(fields, FieldSourceID, sourceID)
	}

	return fields
}

// LoggerFromContext returns the global logger with fields extracted from context.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	return WithContext(Logger, ctx)
}

// WithContext decorates an instance logger with the fields carried by ctx.
func WithContext(l *zap.SugaredLogger, ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
//	pool := async.NewWorkerPool(db, cfg, logger.ComponentLogger("pulse.worker"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

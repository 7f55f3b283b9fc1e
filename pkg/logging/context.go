package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey int

const (
	loggerKey contextKey = iota
	runIDKey
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// WithRunID tags the context logger with the id of the current run. A
// context already tagged with runID is returned unchanged.
func WithRunID(ctx context.Context, runID string) context.Context {
	if RunID(ctx) == runID {
		return ctx
	}
	ctx = context.WithValue(ctx, runIDKey, runID)
	return WithField(ctx, "run_id", runID)
}

// RunID extracts the run id from context.
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// WithFields adds structured fields to the logger in the context.
func WithFields(ctx context.Context, fields map[string]any) context.Context {
	logCtx := FromContext(ctx).With()
	for key, value := range fields {
		logCtx = addField(logCtx, key, value)
	}
	newLogger := logCtx.Logger()
	return WithLogger(ctx, &newLogger)
}

// WithField adds a single field to the logger in the context.
func WithField(ctx context.Context, key string, value any) context.Context {
	logCtx := addField(FromContext(ctx).With(), key, value)
	newLogger := logCtx.Logger()
	return WithLogger(ctx, &newLogger)
}

// WithDataset adds the dataset key being ingested.
func WithDataset(ctx context.Context, dataset string) context.Context {
	return WithField(ctx, "dataset", dataset)
}

// WithEntityType adds the entity type being reconciled.
func WithEntityType(ctx context.Context, entityType string) context.Context {
	return WithField(ctx, "entity_type", entityType)
}

// WithSource adds the source tag.
func WithSource(ctx context.Context, source string) context.Context {
	return WithField(ctx, "source", source)
}

// WithAnnotation adds the community annotation and bundle ids.
func WithAnnotation(ctx context.Context, annotationID, bundleID string) context.Context {
	return WithFields(ctx, map[string]any{
		"annotation_id": annotationID,
		"bundle_id":     bundleID,
	})
}

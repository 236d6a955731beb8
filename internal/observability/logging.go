// Package observability carries structured logging context through the
// pipeline.
package observability

import (
	"context"
	"log/slog"
)

// LogContext holds structured logging context information.
type LogContext struct {
	ProjectID string
	OwnerID   string
	Phase     string
	Agent     string
	TraceID   string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithProjectID adds a project ID to the context.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	lc := extractLogContext(ctx)
	lc.ProjectID = projectID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithOwnerID adds an owner ID to the context.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	lc := extractLogContext(ctx)
	lc.OwnerID = ownerID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithPhase adds a pipeline phase to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	lc := extractLogContext(ctx)
	lc.Phase = phase
	return context.WithValue(ctx, logContextKey, lc)
}

// WithAgent adds an agent kind to the context.
func WithAgent(ctx context.Context, agent string) context.Context {
	lc := extractLogContext(ctx)
	lc.Agent = agent
	return context.WithValue(ctx, logContextKey, lc)
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	lc := extractLogContext(ctx)
	lc.TraceID = traceID
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := []slog.Attr{}
	if lc.ProjectID != "" {
		attrs = append(attrs, slog.String("project.id", lc.ProjectID))
	}
	if lc.OwnerID != "" {
		attrs = append(attrs, slog.String("owner.id", lc.OwnerID))
	}
	if lc.Phase != "" {
		attrs = append(attrs, slog.String("phase", lc.Phase))
	}
	if lc.Agent != "" {
		attrs = append(attrs, slog.String("agent", lc.Agent))
	}
	if lc.TraceID != "" {
		attrs = append(attrs, slog.String("trace.id", lc.TraceID))
	}
	return attrs
}

// InfoContext logs an info message with context information.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, slog.LevelInfo, msg, append(getLogAttrs(ctx), attrs...)...)
}

// WarnContext logs a warning message with context information.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, slog.LevelWarn, msg, append(getLogAttrs(ctx), attrs...)...)
}

// ErrorContext logs an error message with context information.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, slog.LevelError, msg, append(getLogAttrs(ctx), attrs...)...)
}

// DebugContext logs a debug message with context information.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, slog.LevelDebug, msg, append(getLogAttrs(ctx), attrs...)...)
}

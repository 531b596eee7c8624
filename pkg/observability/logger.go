package observability

import (
	"context"
	"log/slog"
)

// Logger is a thin, structured wrapper around log/slog scoped to one
// execution/tenant pair, matching the field-grouping style of the teacher's
// masking and services packages (slog.Info("message", "key", value, ...)
// rather than a logging fluent builder).
type Logger struct {
	base *slog.Logger
}

// NewLogger wraps base, or slog.Default when nil.
func NewLogger(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{base: base}
}

// WithExecution returns a Logger that tags every record with execution and
// tenant identifiers.
func (l *Logger) WithExecution(executionID, tenantID string) *Logger {
	return &Logger{base: l.base.With("execution_id", executionID, "tenant_id", tenantID)}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.base.DebugContext(ctx, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.base.InfoContext(ctx, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.base.WarnContext(ctx, msg, args...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.base.ErrorContext(ctx, msg, args...)
}

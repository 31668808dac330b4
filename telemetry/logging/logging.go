// Package logging wraps log/slog with trace/span correlation, the same
// shape as the teacher's engine/telemetry/logging package. Every subsystem
// in this repository takes a Logger as an explicit collaborator rather than
// reaching for a global logger (§9 design note on implicit singletons).
package logging

import (
	"context"
	"log/slog"

	"github.com/seangreaves-90/hydrogarden/telemetry/tracing"
)

// Logger is the collaborator contract named in §6 of the spec.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
	Log(msg string)
	LogErr(err error, msg string)
}

type correlatedLogger struct{ base *slog.Logger }

// New returns a correlated Logger wrapper around base (or slog.Default if nil).
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

func (l *correlatedLogger) correlate(ctx context.Context, attrs []any) []any {
	traceID, spanID := tracing.ExtractIDs(ctx)
	if traceID != "" || spanID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID), slog.String("span_id", spanID))
	}
	return attrs
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, l.correlate(ctx, attrs)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, l.correlate(ctx, attrs)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, l.correlate(ctx, attrs)...)
}

// Log matches the minimal §6 Logger collaborator contract: log(message).
func (l *correlatedLogger) Log(msg string) { l.base.Info(msg) }

// LogErr matches the §6 contract: log(exception, message).
func (l *correlatedLogger) LogErr(err error, msg string) {
	l.base.Error(msg, slog.Any("error", err))
}

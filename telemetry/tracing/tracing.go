// Package tracing provides a minimal span helper wrapping OpenTelemetry,
// ported from engine/internal/telemetry/tracing in the teacher repo. The
// backbone facade holds a Tracer; bus dispatch and store transactions open
// no spans. Trace/span ids of a span carried in a context are extracted for
// log correlation by telemetry/logging.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts named spans. A no-op tracer is used when tracing is disabled.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, trace.Span)
}

type otelTracer struct {
	tr trace.Tracer
}

// NewTracer returns a Tracer backed by the global OpenTelemetry provider
// under the given instrumentation name.
func NewTracer(instrumentationName string) Tracer {
	return &otelTracer{tr: otel.Tracer(instrumentationName)}
}

func (t *otelTracer) Start(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tr.Start(ctx, name)
}

type noopTracer struct{}

// NewNoopTracer returns a Tracer whose spans are never recorded.
func NewNoopTracer() Tracer { return noopTracer{} }

func (noopTracer) Start(ctx context.Context, name string) (context.Context, trace.Span) {
	return trace.NewNoopTracerProvider().Tracer("noop").Start(ctx, name)
}

// ExtractIDs pulls the trace and span id (hex strings) from the span, if
// any, embedded in ctx. Returns empty strings when ctx carries no span.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

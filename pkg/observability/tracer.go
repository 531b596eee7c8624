// Package observability wraps OpenTelemetry tracing and metrics plus
// structured logging behind three small types so the rest of the
// orchestrator never imports the otel SDK directly.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/codeready-toolchain/workflow-orchestrator"

// Tracer starts spans around pipeline and step execution. NewNoopTracer
// backs it with a no-op TracerProvider for when tracing is disabled, so
// callers never need a nil check.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer wraps the given provider, or the global otel provider when nil.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(instrumentationName)}
}

// NewNoopTracer returns a Tracer that records nothing, for tests and
// environments without an OTel collector configured.
func NewNoopTracer() *Tracer {
	return NewTracer(noop.NewTracerProvider())
}

// StartPipelineSpan opens a span covering one full pipeline execution.
func (t *Tracer) StartPipelineSpan(ctx context.Context, pipelineName, executionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.execute",
		trace.WithAttributes(
			attribute.String("pipeline.name", pipelineName),
			attribute.String("execution.id", executionID),
		))
}

// StartStepSpan opens a span covering one pipeline step, including its
// retries and fallback attempts.
func (t *Tracer) StartStepSpan(ctx context.Context, stepName, capability string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.step",
		trace.WithAttributes(
			attribute.String("step.name", stepName),
			attribute.String("step.capability", capability),
		))
}

// RecordError marks span as failed and attaches err, mirroring the
// record-then-set-status idiom used throughout the otel-instrumented
// teacher handlers.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

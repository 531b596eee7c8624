package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNoopTracerStartsSpans(t *testing.T) {
	tracer := NewNoopTracer()
	ctx, span := tracer.StartPipelineSpan(context.Background(), "transcription", "exec-1")
	require.NotNil(t, span)
	defer span.End()
	assert.NotNil(t, ctx)

	_, stepSpan := tracer.StartStepSpan(ctx, "transcribe", "transcription")
	defer stepSpan.End()
}

func TestNewNoopMetricsRecordsWithoutPanicking(t *testing.T) {
	m := NewNoopMetrics()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.PipelineStarted(ctx, "call_analysis")
		m.StepDuration(ctx, "transcribe", "deepgram", 123.4)
		m.StepRetried(ctx, "transcribe")
		m.FallbackUsed(ctx, "transcribe", "deepgram", "openai")
		m.TokensUsed(ctx, "openai", 100, 50)
		m.AudioProcessed(ctx, "deepgram", 60)
		m.CostIncurred(ctx, "openai", 0.002)
		m.CompensationRun(ctx, "call_analysis", true)
		m.CircuitBreakerTripped(ctx, "deepgram", "open")
		m.PipelineCompleted(ctx, "call_analysis", true)
	})
}

func TestLogger_WithExecutionTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	base := NewLogger(slog.New(handler))
	scoped := base.WithExecution("exec-1", "tenant-a")

	scoped.Info(context.Background(), "step completed", "step", "transcribe")

	out := buf.String()
	assert.Contains(t, out, "exec-1")
	assert.Contains(t, out, "tenant-a")
	assert.Contains(t, out, "step completed")
}

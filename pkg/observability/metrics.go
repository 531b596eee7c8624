package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics records the orchestrator's counters and histograms:
// pipeline/step/provider/token/audio/fallback/compensation activity, plus an
// in-flight execution gauge driven by pipeline.started/pipeline.completed.
type Metrics struct {
	pipelinesStarted   metric.Int64Counter
	pipelinesCompleted metric.Int64Counter
	pipelinesInFlight  metric.Int64UpDownCounter

	stepDuration    metric.Float64Histogram
	stepRetries     metric.Int64Counter
	fallbacksUsed   metric.Int64Counter
	compensations   metric.Int64Counter

	tokensUsed      metric.Int64Counter
	audioSeconds    metric.Float64Counter
	costUsd         metric.Float64Counter

	circuitBreakerTrips metric.Int64Counter
	budgetExceeded      metric.Int64Counter
}

// NewMetrics wraps the given MeterProvider, or the global otel provider when
// nil. NewNoopMetrics covers tests and environments without a metrics
// backend configured.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	m := &Metrics{}
	var err error

	if m.pipelinesStarted, err = meter.Int64Counter("orchestrator.pipelines.started"); err != nil {
		return nil, err
	}
	if m.pipelinesCompleted, err = meter.Int64Counter("orchestrator.pipelines.completed"); err != nil {
		return nil, err
	}
	if m.pipelinesInFlight, err = meter.Int64UpDownCounter("orchestrator.pipelines.in_flight"); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram("orchestrator.step.duration_ms"); err != nil {
		return nil, err
	}
	if m.stepRetries, err = meter.Int64Counter("orchestrator.step.retries"); err != nil {
		return nil, err
	}
	if m.fallbacksUsed, err = meter.Int64Counter("orchestrator.step.fallbacks"); err != nil {
		return nil, err
	}
	if m.compensations, err = meter.Int64Counter("orchestrator.saga.compensations"); err != nil {
		return nil, err
	}
	if m.tokensUsed, err = meter.Int64Counter("orchestrator.provider.tokens"); err != nil {
		return nil, err
	}
	if m.audioSeconds, err = meter.Float64Counter("orchestrator.provider.audio_seconds"); err != nil {
		return nil, err
	}
	if m.costUsd, err = meter.Float64Counter("orchestrator.provider.cost_usd"); err != nil {
		return nil, err
	}
	if m.circuitBreakerTrips, err = meter.Int64Counter("orchestrator.provider.circuit_breaker_trips"); err != nil {
		return nil, err
	}
	if m.budgetExceeded, err = meter.Int64Counter("orchestrator.budget.exceeded"); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNoopMetrics returns a Metrics instance backed by the no-op provider,
// for tests.
func NewNoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		// the no-op provider never fails instrument creation.
		panic(err)
	}
	return m
}

func (m *Metrics) PipelineStarted(ctx context.Context, pipelineName string) {
	attrs := metric.WithAttributes(attribute.String("pipeline.name", pipelineName))
	m.pipelinesStarted.Add(ctx, 1, attrs)
	m.pipelinesInFlight.Add(ctx, 1, attrs)
}

func (m *Metrics) PipelineCompleted(ctx context.Context, pipelineName string, success bool) {
	attrs := metric.WithAttributes(
		attribute.String("pipeline.name", pipelineName),
		attribute.Bool("success", success),
	)
	m.pipelinesCompleted.Add(ctx, 1, attrs)
	m.pipelinesInFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("pipeline.name", pipelineName)))
}

func (m *Metrics) StepDuration(ctx context.Context, stepName, provider string, durationMs float64) {
	m.stepDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("step.name", stepName),
		attribute.String("provider", provider),
	))
}

func (m *Metrics) StepRetried(ctx context.Context, stepName string) {
	m.stepRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("step.name", stepName)))
}

func (m *Metrics) FallbackUsed(ctx context.Context, stepName, fromProvider, toProvider string) {
	m.fallbacksUsed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step.name", stepName),
		attribute.String("from_provider", fromProvider),
		attribute.String("to_provider", toProvider),
	))
}

func (m *Metrics) CompensationRun(ctx context.Context, pipelineName string, fullRollback bool) {
	m.compensations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline.name", pipelineName),
		attribute.Bool("full_rollback", fullRollback),
	))
}

func (m *Metrics) TokensUsed(ctx context.Context, provider string, inputTokens, outputTokens int) {
	m.tokensUsed.Add(ctx, int64(inputTokens), metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("direction", "input")))
	m.tokensUsed.Add(ctx, int64(outputTokens), metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("direction", "output")))
}

func (m *Metrics) AudioProcessed(ctx context.Context, provider string, seconds float64) {
	m.audioSeconds.Add(ctx, seconds, metric.WithAttributes(attribute.String("provider", provider)))
}

func (m *Metrics) CostIncurred(ctx context.Context, provider string, amountUsd float64) {
	m.costUsd.Add(ctx, amountUsd, metric.WithAttributes(attribute.String("provider", provider)))
}

func (m *Metrics) CircuitBreakerTripped(ctx context.Context, provider, state string) {
	m.circuitBreakerTrips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("state", state)))
}

// BudgetExceeded satisfies pkg/budget.Metrics, recorded whenever CheckBudget
// returns a non-allowed result for tenantID.
func (m *Metrics) BudgetExceeded(ctx context.Context, tenantID, action string) {
	m.budgetExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID), attribute.String("action", action)))
}

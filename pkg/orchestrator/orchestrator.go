package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/budget"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/events"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/observability"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/pipelines"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/saga"
)

// Orchestrator is the single entrypoint a caller drives a pipeline execution
// through: it wraps one saga.Coordinator with the pre-flight budget check,
// metrics, and tracing the source's InstrumentedOrchestrator.execute performs
// around its SagaCoordinator call.
type Orchestrator struct {
	Pipeline pipelines.PipelineDefinition
	Saga     *saga.Coordinator
	Runtime  *Runtime
}

// New builds an Orchestrator for one pipeline, sharing the saga coordinator
// and services carried by rt.
func New(pipeline pipelines.PipelineDefinition, executor *pipelines.Executor, rt *Runtime) *Orchestrator {
	return &Orchestrator{
		Pipeline: pipeline,
		Saga:     rt.NewSagaCoordinator(executor),
		Runtime:  rt,
	}
}

// ExecuteOptions carries the per-call overrides execute() accepts in the
// source (tenant_id, api_key_overrides, model_overrides, budget_limit_usd,
// skip_budget_check).
type ExecuteOptions struct {
	TenantID         *string
	APIKeyOverrides  map[string]string
	ModelOverrides   map[string]string
	BudgetLimitUsd   *decimal.Decimal
	SkipBudgetCheck  bool
	ProgressCallback pipelines.ProgressCallback
}

// Execute runs o.Pipeline against input, enforcing the tenant's budget
// before any step runs (unless skipped), then recording metrics, tracing,
// and post-execution spend tracking around the saga-coordinated run.
// Mirrors InstrumentedOrchestrator.execute's exact sequence: pre-flight
// budget check (raise before any work if blocked) -> pipeline-started
// metrics -> optional tracer span -> saga execute -> execution metrics ->
// completion/failure logging -> post-execution spend tracking -> pipeline-
// completed metrics (in a finally, for the in-flight gauge).
func (o *Orchestrator) Execute(ctx context.Context, input map[string]any, opts ExecuteOptions) (pipelines.PipelineResult, error) {
	tenant := ""
	if opts.TenantID != nil {
		tenant = *opts.TenantID
	}
	logger := o.Runtime.Logger.WithExecution("", tenant)

	if opts.TenantID != nil && !opts.SkipBudgetCheck && o.Runtime.Budget != nil {
		estimate := opts.BudgetLimitUsd
		if estimate == nil {
			estimate = o.Pipeline.EstimatedCostUsd
		}
		check, err := o.Runtime.Budget.CheckBudget(ctx, *opts.TenantID, estimate)
		if err != nil {
			return pipelines.PipelineResult{}, fmt.Errorf("orchestrator: checking budget: %w", err)
		}
		if !check.Allowed {
			return pipelines.PipelineResult{}, &budget.ErrExceeded{Result: check}
		}
		if check.Action == budget.ActionWarned {
			logger.Warn(ctx, "budget warning before execution",
				"pipeline", o.Pipeline.Name, "message", check.Message, "percent_used", check.PercentUsed)
		}
	}

	succeeded := false
	if o.Runtime.Metrics != nil {
		o.Runtime.Metrics.PipelineStarted(ctx, o.Pipeline.Name)
		defer func() { o.Runtime.Metrics.PipelineCompleted(ctx, o.Pipeline.Name, succeeded) }()
	}
	logger.Info(ctx, "pipeline execution started", "pipeline", o.Pipeline.Name, "version", o.Pipeline.Version)

	runExecute := func(ctx context.Context) (pipelines.PipelineResult, error) {
		return o.Saga.Execute(ctx, o.Pipeline, input, opts.TenantID, opts.APIKeyOverrides, opts.ModelOverrides, opts.ProgressCallback)
	}

	var (
		result pipelines.PipelineResult
		err    error
	)
	if o.Runtime.Tracer != nil {
		spanCtx, span := o.Runtime.Tracer.StartPipelineSpan(ctx, o.Pipeline.Name, "")
		result, err = runExecute(spanCtx)
		if err != nil {
			observability.RecordError(span, err)
		} else if !result.Success {
			observability.RecordError(span, fmt.Errorf("pipeline failed at step %q: %s", result.FailedStep, result.Error))
		}
		span.End()
	} else {
		result, err = runExecute(ctx)
	}

	o.recordExecutionMetrics(ctx, result)
	succeeded = err == nil && result.Success

	if err != nil {
		logger.Error(ctx, "pipeline execution errored", "pipeline", o.Pipeline.Name, "error", err)
		return result, err
	}
	if result.Success {
		logger.Info(ctx, "pipeline execution completed",
			"pipeline", o.Pipeline.Name, "execution_id", result.ExecutionID, "duration_ms", result.TotalDurationMs)
	} else {
		logger.Warn(ctx, "pipeline execution failed",
			"pipeline", o.Pipeline.Name, "execution_id", result.ExecutionID, "failed_step", result.FailedStep, "error", result.Error)
	}

	if opts.TenantID != nil && o.Runtime.Budget != nil && result.TotalCostUsd.IsPositive() {
		if _, spendErr := o.Runtime.Budget.TrackSpend(ctx, *opts.TenantID, result.TotalCostUsd, o.Pipeline.Name, result.ExecutionID, dominantProvider(result), "", nil); spendErr != nil {
			logger.Error(ctx, "failed to record spend", "tenant_id", *opts.TenantID, "error", spendErr)
		}
	}

	return result, nil
}

// recordExecutionMetrics emits per-pipeline, per-step, per-provider, and
// compensation metrics for one completed execution. Mirrors
// InstrumentedOrchestrator._record_execution_metrics.
func (o *Orchestrator) recordExecutionMetrics(ctx context.Context, result pipelines.PipelineResult) {
	if o.Runtime.Metrics == nil {
		return
	}
	for _, step := range o.Pipeline.Steps {
		sr, ok := result.GetStepResult(step.Name)
		if !ok {
			continue
		}
		switch sr.Status {
		case pipelines.StepCompleted, pipelines.StepFailed:
			o.Runtime.Metrics.StepDuration(ctx, step.Name, sr.ProviderUsed, sr.DurationMs())
			if sr.Retries > 0 {
				o.Runtime.Metrics.StepRetried(ctx, step.Name)
			}
			if sr.OperationResult != nil && sr.OperationResult.Usage != nil {
				in := int(sr.OperationResult.Usage["input_tokens"])
				out := int(sr.OperationResult.Usage["output_tokens"])
				if in > 0 || out > 0 {
					o.Runtime.Metrics.TokensUsed(ctx, sr.ProviderUsed, in, out)
				}
				if seconds, ok := sr.OperationResult.Usage["duration_seconds"]; ok && seconds > 0 {
					o.Runtime.Metrics.AudioProcessed(ctx, sr.ProviderUsed, seconds)
				}
			}
		}

		chain := append([]string{}, step.ProviderPreference...)
		for i, failed := range sr.FallbacksAttempted {
			next := sr.ProviderUsed
			if i+1 < len(chain) {
				next = chain[i+1]
			}
			if next != "" {
				o.Runtime.Metrics.FallbackUsed(ctx, step.Name, failed, next)
			}
		}
	}

	if result.CompensationPerformed {
		o.Runtime.Metrics.CompensationRun(ctx, o.Pipeline.Name, len(result.CompensatedSteps) == len(result.CompletedSteps))
	}
}

func dominantProvider(result pipelines.PipelineResult) string {
	for _, sr := range result.StepResults {
		if sr.ProviderUsed != "" {
			return sr.ProviderUsed
		}
	}
	return ""
}

// StreamEvents subscribes to live events for executionID, optionally
// filtered by eventTypes. Mirrors stream_events.
func (o *Orchestrator) StreamEvents(executionID string, eventTypes []events.EventType) (<-chan events.Event, func()) {
	return o.Runtime.EventStore.Subscribe(events.Filter{ExecutionID: executionID, Types: eventTypes})
}

// GetWorkflowState folds an execution's recorded events into a coarse status
// snapshot. Mirrors get_workflow_state.
func (o *Orchestrator) GetWorkflowState(executionID string) (map[string]any, bool) {
	return o.Runtime.EventStore.GetWorkflowState(executionID)
}

// GetEvents returns every event recorded for executionID, oldest first.
func (o *Orchestrator) GetEvents(executionID string) []events.Event {
	return o.Runtime.EventStore.GetEvents(executionID)
}

// QueryEvents serves the full getEvents(executionId?, tenantId?,
// eventTypes?, since?, until?, limit) contract, for callers (e.g. an
// events-history API endpoint) that need tenant-wide or time-bounded
// queries rather than a single execution's full history.
func (o *Orchestrator) QueryEvents(q events.Query) []events.Event {
	return o.Runtime.EventStore.Query(q)
}

// GetProgress reports completion percentage derived from recorded events.
// Mirrors get_progress.
func (o *Orchestrator) GetProgress(executionID string) (map[string]any, bool) {
	state, ok := o.Runtime.EventStore.GetWorkflowState(executionID)
	if !ok {
		return nil, false
	}
	totalSteps := len(o.Pipeline.Steps)
	completed, _ := state["completed_steps"].([]string)
	percent := 0.0
	if totalSteps > 0 {
		percent = float64(len(completed)) / float64(totalSteps) * 100
		if percent > 100 {
			percent = 100
		}
	}
	return map[string]any{
		"execution_id":     executionID,
		"status":           state["status"],
		"completed_steps":  completed,
		"progress_percent": percent,
		"total_steps":      totalSteps,
		"current_cost_usd": state["total_cost_usd"],
	}, true
}

// GetBudgetStatus reports tenantID's current budget standing with no
// additional projected spend, or nil if no budget service is configured.
// Mirrors get_budget_status.
func (o *Orchestrator) GetBudgetStatus(ctx context.Context, tenantID string) (*budget.CheckResult, error) {
	if o.Runtime.Budget == nil {
		return nil, nil
	}
	result, err := o.Runtime.Budget.CheckBudget(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSpendSummary reports tenantID's aggregated spend for period, or nil if
// no budget service is configured. Mirrors get_spend_summary.
func (o *Orchestrator) GetSpendSummary(ctx context.Context, tenantID string, period budget.Period) (*budget.Summary, error) {
	if o.Runtime.Budget == nil {
		return nil, nil
	}
	summary, err := o.Runtime.Budget.GetSpendSummary(ctx, tenantID, period)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

package pipelines

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/providers"
)

// ProgressCallback is invoked as a pipeline advances; percent is 0-100.
type ProgressCallback func(executionID string, percent float64, message string)

// AdapterSource resolves a named provider into a ready-to-call Adapter,
// sharing instances across steps and executions. providers.AdapterCache
// satisfies this.
type AdapterSource interface {
	GetOrCreate(provider, apiKey, model string, factory capabilities.AdapterFactory) (capabilities.Adapter, error)
}

// Executor runs PipelineDefinitions: condition gating, provider fallback
// chains, retry with backoff, progress tracking, cost aggregation, and saga
// compensation on a required step's failure. Stateless and safe for
// concurrent use — each call to Execute owns its own PipelineContext.
// Grounded on original_source's PipelineExecutor.
type Executor struct {
	Registry             *capabilities.Registry
	Adapters             AdapterSource
	DefaultAPIKeys       map[string]string
	DefaultModelOverrides map[string]string
	ProgressCallback     ProgressCallback
	Logger               *slog.Logger
}

// NewExecutor builds an Executor backed by registry, using adapters as the
// adapter instance cache (providers.NewAdapterCache in production, a fake in
// tests).
func NewExecutor(registry *capabilities.Registry, adapters AdapterSource) *Executor {
	return &Executor{
		Registry: registry,
		Adapters: adapters,
		Logger:   slog.Default(),
	}
}

// Execute runs pipeline against input, returning a PipelineResult that never
// errors on operation failure — PipelineResult.Success/Error/FailedStep carry
// that instead. The returned error is reserved for truly exceptional cases
// the pipeline model has no field for (none today; kept for interface parity
// with callers that wrap Executor behind an interface).
func (e *Executor) Execute(
	ctx context.Context,
	pipeline PipelineDefinition,
	input map[string]any,
	tenantID *string,
	apiKeyOverrides, modelOverrides map[string]string,
	progressCallback ProgressCallback,
) (PipelineResult, error) {
	pctx := NewPipelineContext(pipeline.Name, tenantID, input)

	apiKeys := mergeStrings(e.DefaultAPIKeys, apiKeyOverrides)
	models := mergeStrings(e.DefaultModelOverrides, modelOverrides)
	callback := progressCallback
	if callback == nil {
		callback = e.ProgressCallback
	}

	e.logger().Info("pipeline execution started",
		"execution_id", pctx.ExecutionID, "pipeline", pipeline.Name,
		"version", pipeline.Version, "tenant_id", strPtr(tenantID), "step_count", len(pipeline.Steps))

	if pipeline.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(pipeline.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	result := e.executePipeline(ctx, pipeline, pctx, apiKeys, models, callback)

	e.logger().Info("pipeline execution finished",
		"execution_id", pctx.ExecutionID, "pipeline", pipeline.Name,
		"success", result.Success, "duration_ms", result.TotalDurationMs,
		"total_cost_usd", result.TotalCostUsd.String())

	return result, nil
}

func (e *Executor) executePipeline(
	ctx context.Context,
	pipeline PipelineDefinition,
	pctx *PipelineContext,
	apiKeys, models map[string]string,
	callback ProgressCallback,
) PipelineResult {
	totalWeight := pipeline.TotalProgressWeight()
	if totalWeight <= 0 {
		totalWeight = 1
	}
	completedWeight := 0.0
	totalCost := decimal.Zero
	checkpoints := make(map[string]bool, len(pipeline.ProgressCheckpoints))
	for _, name := range pipeline.ProgressCheckpoints {
		checkpoints[name] = true
	}

	for _, step := range pipeline.Steps {
		pctx.CurrentStep = step.Name

		if err := ctx.Err(); err != nil {
			pctx.FailedStep = step.Name
			pctx.FailureError = fmt.Sprintf("pipeline timed out after %ds", pipeline.TimeoutSeconds)
			if pipeline.EnableCompensation {
				e.runCompensation(ctx, pipeline, pctx, callback)
			}
			return e.createFailureResult(pipeline, pctx, totalCost, "pipeline execution timed out")
		}

		if !step.ShouldExecute(pctx.Data) {
			e.logger().Info("skipping step, condition not met",
				"execution_id", pctx.ExecutionID, "step", step.Name)
			pctx.StepResults[step.Name] = &StepResult{
				StepName:      step.Name,
				Status:        StepSkipped,
				SkippedReason: "Condition not met",
			}
			continue
		}

		e.updateProgress(pctx, callback, completedWeight/totalWeight*100, "Running: "+step.Name)

		stepResult := e.executeStep(ctx, step, pctx, apiKeys, models)
		pctx.StepResults[step.Name] = stepResult

		switch stepResult.Status {
		case StepCompleted:
			pctx.CompletedSteps = append(pctx.CompletedSteps, step.Name)
			completedWeight += step.ProgressWeight
			totalCost = totalCost.Add(stepResult.CostUsd())
			if checkpoints[step.Name] {
				pctx.LastCheckpoint = step.Name
			}

			if stepResult.OperationResult != nil && stepResult.OperationResult.Data != nil {
				outputKey := step.GetOutputKey()
				outputData := stepResult.OperationResult.Data
				if step.OutputTransform != nil {
					if transformed, err := step.OutputTransform(outputData); err == nil {
						outputData = transformed
					} else {
						e.logger().Warn("output transform failed", "execution_id", pctx.ExecutionID, "step", step.Name, "error", err)
					}
				}
				pctx.Set(outputKey, outputData)
			}

		case StepFailed:
			if step.ContinueOnFailure || !step.Required {
				e.logger().Warn("step failed but continuing",
					"execution_id", pctx.ExecutionID, "step", step.Name, "error", stepResult.Error)
				completedWeight += step.ProgressWeight
				continue
			}

			pctx.FailedStep = step.Name
			pctx.FailureError = stepResult.Error

			if pipeline.EnableCompensation {
				e.runCompensation(ctx, pipeline, pctx, callback)
			}

			if pipeline.FailFast {
				return e.createFailureResult(pipeline, pctx, totalCost, "")
			}
		}
	}

	e.updateProgress(pctx, callback, 100, "Complete")

	return PipelineResult{
		ExecutionID:     pctx.ExecutionID,
		PipelineName:    pipeline.Name,
		PipelineVersion: pipeline.Version,
		Success:         true,
		CompletedSteps:  pctx.CompletedSteps,
		Output:          pctx.Data,
		StepResults:     pctx.StepResults,
		TotalCostUsd:    totalCost,
		TotalDurationMs: durationMs(pctx.StartedAt, time.Now()),
		StartedAt:       pctx.StartedAt,
		CompletedAt:     time.Now(),
	}
}

func (e *Executor) executeStep(
	ctx context.Context,
	step PipelineStep,
	pctx *PipelineContext,
	apiKeys, models map[string]string,
) *StepResult {
	startedAt := time.Now()
	var fallbacksAttempted []string

	chain := e.buildFallbackChain(step)
	if len(chain) == 0 {
		return &StepResult{
			StepName:    step.Name,
			Status:      StepFailed,
			Error:       fmt.Sprintf("no providers available for capability: %s", step.Capability),
			ErrorCode:   providers.ErrCodeNoProviders,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
		}
	}

	inputData, err := step.GetInput(pctx.Data)
	if err != nil {
		return &StepResult{
			StepName:    step.Name,
			Status:      StepFailed,
			Error:       err.Error(),
			ErrorCode:   providers.ErrCodeInvalidInput,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
		}
	}

	var lastError, lastErrorCode string

	for _, providerName := range chain {
		adapter, aerr := e.getAdapter(providerName, apiKeys[providerName], models[providerName])
		if aerr != nil {
			fallbacksAttempted = append(fallbacksAttempted, providerName)
			lastError = aerr.Error()
			lastErrorCode = providers.ErrCodeException
			e.logger().Warn("adapter construction failed, trying fallback",
				"execution_id", pctx.ExecutionID, "step", step.Name, "provider", providerName, "error", aerr)
			continue
		}

		result := e.executeWithRetry(ctx, adapter, step, inputData)

		if result.Success {
			return &StepResult{
				StepName:           step.Name,
				Status:             StepCompleted,
				OperationResult:    &result,
				ProviderUsed:       providerName,
				FallbacksAttempted: fallbacksAttempted,
				StartedAt:          startedAt,
				CompletedAt:        time.Now(),
			}
		}

		fallbacksAttempted = append(fallbacksAttempted, providerName)
		lastError = result.Error
		lastErrorCode = result.ErrorCode

		e.logger().Warn("provider failed, trying fallback",
			"execution_id", pctx.ExecutionID, "step", step.Name, "provider", providerName, "error", result.Error)
	}

	return &StepResult{
		StepName:           step.Name,
		Status:             StepFailed,
		Error:              orDefault(lastError, "all providers failed"),
		ErrorCode:          lastErrorCode,
		FallbacksAttempted: fallbacksAttempted,
		StartedAt:          startedAt,
		CompletedAt:        time.Now(),
	}
}

// executeWithRetry runs adapter.Execute up to policy.MaxAttempts times,
// sleeping between attempts per a cenkalti/backoff/v4 ExponentialBackOff
// configured with RandomizationFactor 0 so delays match
// RetryPolicy.DelayForAttempt deterministically. A per-attempt timeout bounds
// each call via context.WithTimeout; timeoutSeconds<=0 fails the attempt
// immediately (context is cancelled before the call runs), matching the
// source's asyncio.wait_for(timeout=0) behavior.
func (e *Executor) executeWithRetry(ctx context.Context, adapter capabilities.Adapter, step PipelineStep, inputData any) capabilities.OperationResult {
	policy := step.RetryPolicy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     time.Duration(policy.InitialDelayMs) * time.Millisecond,
		Multiplier:          policy.BackoffMultiplier,
		MaxInterval:         time.Duration(policy.MaxDelayMs) * time.Millisecond,
		RandomizationFactor: 0,
		Clock:               backoff.SystemClock,
	}
	if !policy.ExponentialBackoff {
		bo.Multiplier = 1
	}
	bo.Reset()

	var lastResult *capabilities.OperationResult

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result := e.callWithTimeout(ctx, adapter, step, inputData)
		lastResult = &result

		if result.Success {
			return result
		}
		if !result.Retryable {
			return result
		}
		if !policy.AllowsErrorCode(result.ErrorCode) {
			return result
		}

		if attempt < policy.MaxAttempts {
			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				break
			}
			select {
			case <-ctx.Done():
				return result
			case <-time.After(delay):
			}
		}
	}

	if lastResult != nil {
		return *lastResult
	}
	return capabilities.OperationResult{
		Success:      false,
		ProviderName: adapter.Registration().ProviderName,
		Capability:   step.Capability,
		Error:        "max retries exceeded",
		ErrorCode:    providers.ErrCodeMaxRetries,
		Retryable:    false,
	}
}

// callWithTimeout invokes adapter.Execute bounded by step.TimeoutSeconds,
// converting a context deadline into a TIMEOUT OperationResult so the retry
// loop above never has to distinguish "provider said no" from "provider took
// too long."
func (e *Executor) callWithTimeout(ctx context.Context, adapter capabilities.Adapter, step PipelineStep, inputData any) capabilities.OperationResult {
	callCtx := ctx
	var cancel context.CancelFunc
	if step.TimeoutSeconds > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	} else {
		callCtx, cancel = context.WithTimeout(ctx, 0)
		defer cancel()
	}

	if err := callCtx.Err(); err != nil {
		return capabilities.OperationResult{
			Success:      false,
			ProviderName: adapter.Registration().ProviderName,
			Capability:   step.Capability,
			Error:        fmt.Sprintf("timeout after %ds", step.TimeoutSeconds),
			ErrorCode:    providers.ErrCodeTimeout,
			Retryable:    true,
		}
	}

	type out struct {
		res capabilities.OperationResult
	}
	done := make(chan out, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- out{res: capabilities.OperationResult{
					Success:      false,
					ProviderName: adapter.Registration().ProviderName,
					Capability:   step.Capability,
					Error:        fmt.Sprintf("panic: %v", r),
					ErrorCode:    providers.ErrCodeException,
					Retryable:    true,
				}}
			}
		}()
		done <- out{res: adapter.Execute(callCtx, step.Capability, inputData, step.Options)}
	}()

	select {
	case o := <-done:
		return o.res
	case <-callCtx.Done():
		return capabilities.OperationResult{
			Success:      false,
			ProviderName: adapter.Registration().ProviderName,
			Capability:   step.Capability,
			Error:        fmt.Sprintf("timeout after %ds", step.TimeoutSeconds),
			ErrorCode:    providers.ErrCodeTimeout,
			Retryable:    true,
		}
	}
}

// buildFallbackChain mirrors the source's _build_fallback_chain: when a
// step disables fallback entirely, only its preferred provider (or the
// registry's single best match) is tried; otherwise the registry builds the
// full priority-ordered chain.
func (e *Executor) buildFallbackChain(step PipelineStep) []string {
	if !step.FallbackConfig.Enabled {
		if len(step.ProviderPreference) > 0 {
			return step.ProviderPreference[:1]
		}
		providersFor := e.Registry.GetProvidersForCapability(step.Capability, nil, nil, true)
		if len(providersFor) == 0 {
			return nil
		}
		return []string{providersFor[0].ProviderName}
	}

	var primary string
	if len(step.ProviderPreference) > 0 {
		primary = step.ProviderPreference[0]
	}
	return e.Registry.BuildFallbackChain(
		step.Capability,
		primary,
		step.FallbackConfig.MaxFallbacks,
		step.FallbackConfig.ExcludedProviders,
		step.FallbackConfig.PreferSameQuality,
	)
}

func (e *Executor) getAdapter(providerName, apiKey, model string) (capabilities.Adapter, error) {
	return e.Adapters.GetOrCreate(providerName, apiKey, model, func(apiKey, modelName string) (capabilities.Adapter, error) {
		return e.Registry.CreateAdapter(providerName, apiKey, modelName)
	})
}

// runCompensation walks CompletedSteps in reverse, invoking each step's
// CompensationAction.Handler under a per-action timeout, the whole loop
// additionally bounded by pipeline.CompensationTimeoutSeconds. Grounded on
// original_source's _run_compensation, with one redesign (spec.md §9 open
// question #4, resolved as a change): compensation must still run when the
// caller's ctx has already expired or been canceled, since rollback of
// already-committed side effects is owed regardless of why the pipeline
// stopped, so it detaches from ctx via context.WithoutCancel before applying
// its own timeout.
func (e *Executor) runCompensation(ctx context.Context, pipeline PipelineDefinition, pctx *PipelineContext, callback ProgressCallback) {
	e.logger().Info("starting compensation",
		"execution_id", pctx.ExecutionID, "completed_steps", pctx.CompletedSteps)
	e.updateProgress(pctx, callback, pctx.ProgressPercent, "Running compensation...")

	ctx = context.WithoutCancel(ctx)
	if pipeline.CompensationTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(pipeline.CompensationTimeoutSeconds)*time.Second)
		defer cancel()
	}

	for i := len(pctx.CompletedSteps) - 1; i >= 0; i-- {
		stepName := pctx.CompletedSteps[i]
		step, ok := pipeline.GetStep(stepName)
		if !ok || step.Compensation == nil {
			continue
		}
		if ctx.Err() != nil {
			msg := fmt.Sprintf("compensation deadline exceeded before %s", stepName)
			pctx.CompensationErrors = append(pctx.CompensationErrors, msg)
			e.logger().Error(msg, "execution_id", pctx.ExecutionID)
			continue
		}

		success, err := e.runOneCompensation(ctx, step, pctx)
		switch {
		case err != nil:
			msg := fmt.Sprintf("compensation exception for %s: %v", stepName, err)
			pctx.CompensationErrors = append(pctx.CompensationErrors, msg)
			e.logger().Error(msg, "execution_id", pctx.ExecutionID)
		case success:
			pctx.CompensatedSteps = append(pctx.CompensatedSteps, stepName)
			e.logger().Info("compensation succeeded", "execution_id", pctx.ExecutionID, "step", stepName)
		default:
			msg := fmt.Sprintf("compensation failed: %s", stepName)
			pctx.CompensationErrors = append(pctx.CompensationErrors, msg)
			e.logger().Error(msg, "execution_id", pctx.ExecutionID)
		}
	}
}

func (e *Executor) runOneCompensation(ctx context.Context, step PipelineStep, pctx *PipelineContext) (success bool, err error) {
	timeout := time.Duration(step.Compensation.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type out struct {
		ok  bool
		err error
	}
	done := make(chan out, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- out{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		ok, herr := step.Compensation.Handler(pctx.Data)
		done <- out{ok: ok, err: herr}
	}()

	select {
	case o := <-done:
		return o.ok, o.err
	case <-cctx.Done():
		return false, fmt.Errorf("compensation timed out: %s", step.Name)
	}
}

func (e *Executor) createFailureResult(pipeline PipelineDefinition, pctx *PipelineContext, totalCost decimal.Decimal, errOverride string) PipelineResult {
	errMsg := errOverride
	if errMsg == "" {
		errMsg = pctx.FailureError
	}
	return PipelineResult{
		ExecutionID:           pctx.ExecutionID,
		PipelineName:          pipeline.Name,
		PipelineVersion:       pipeline.Version,
		Success:               false,
		CompletedSteps:        pctx.CompletedSteps,
		FailedStep:            pctx.FailedStep,
		Error:                 errMsg,
		Output:                pctx.Data,
		StepResults:           pctx.StepResults,
		TotalCostUsd:          totalCost,
		TotalDurationMs:       durationMs(pctx.StartedAt, time.Now()),
		StartedAt:             pctx.StartedAt,
		CompletedAt:           time.Now(),
		CompensationPerformed: len(pctx.CompensatedSteps) > 0,
		CompensatedSteps:      pctx.CompensatedSteps,
	}
}

func (e *Executor) updateProgress(pctx *PipelineContext, callback ProgressCallback, percent float64, message string) {
	pctx.SetProgress(percent, message)
	if callback == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger().Warn("progress callback panicked", "execution_id", pctx.ExecutionID, "recovered", r)
			}
		}()
		callback(pctx.ExecutionID, percent, message)
	}()
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func mergeStrings(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func durationMs(start, end time.Time) float64 {
	if start.IsZero() {
		return 0
	}
	return float64(end.Sub(start).Microseconds()) / 1000.0
}

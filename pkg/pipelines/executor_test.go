package pipelines

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/providers"
)

// fakeAdapter is a scripted capabilities.Adapter for executor tests: each
// call to Execute pops the next canned result (or returns the last one
// repeatedly once exhausted), optionally sleeping first to exercise timeouts.
type fakeAdapter struct {
	name     string
	results  []capabilities.OperationResult
	calls    int
	sleep    time.Duration
	reg      capabilities.ProviderRegistration
}

func (a *fakeAdapter) Execute(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	a.calls++
	if a.sleep > 0 {
		select {
		case <-time.After(a.sleep):
		case <-ctx.Done():
			return capabilities.OperationResult{Success: false, ProviderName: a.name, Capability: capability, ErrorCode: providers.ErrCodeTimeout, Retryable: true}
		}
	}
	idx := a.calls - 1
	if idx >= len(a.results) {
		idx = len(a.results) - 1
	}
	r := a.results[idx]
	r.ProviderName = a.name
	r.Capability = capability
	return r
}

func (a *fakeAdapter) HealthCheck(ctx context.Context) bool { return true }
func (a *fakeAdapter) Registration() capabilities.ProviderRegistration {
	if a.reg.ProviderName == "" {
		a.reg.ProviderName = a.name
	}
	return a.reg
}

// fakeAdapterSource hands back pre-built adapters by provider name, ignoring
// apiKey/model — standing in for providers.AdapterCache in tests that don't
// need real caching semantics.
type fakeAdapterSource struct {
	byName map[string]capabilities.Adapter
}

func (f *fakeAdapterSource) GetOrCreate(provider, apiKey, model string, factory capabilities.AdapterFactory) (capabilities.Adapter, error) {
	if a, ok := f.byName[provider]; ok {
		return a, nil
	}
	return factory(apiKey, model)
}

func newRegistryWith(t *testing.T, adapters map[string]*fakeAdapter, metas ...capabilities.CapabilityMetadata) *capabilities.Registry {
	t.Helper()
	reg := capabilities.NewRegistry()
	for name, a := range adapters {
		reg.RegisterProvider(capabilities.ProviderRegistration{
			ProviderName: name,
			ProviderType: capabilities.ProviderType("http"),
			Capabilities: metas,
			IsAvailable:  true,
		}, func(apiKey, model string) (capabilities.Adapter, error) { return a, nil })
	}
	return reg
}

func okResult() capabilities.OperationResult {
	return capabilities.OperationResult{Success: true, Data: map[string]any{"text": "done"}, CostUsd: decimal.NewFromFloat(0.01)}
}

func failResult(code string, retryable bool) capabilities.OperationResult {
	return capabilities.OperationResult{Success: false, Error: "boom", ErrorCode: code, Retryable: retryable}
}

func onePrimaryStep(name string, cap_ capabilities.Capability, primary string) PipelineStep {
	return PipelineStep{
		Name:               name,
		Capability:         cap_,
		ProviderPreference: []string{primary},
		RetryPolicy:        RetryPolicy{MaxAttempts: 1, InitialDelayMs: 1},
		FallbackConfig:     DefaultFallbackConfig(),
		TimeoutSeconds:     5,
		Required:           true,
		ProgressWeight:     1,
	}
}

func TestExecutor_HappyPath(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	primary := &fakeAdapter{name: "openai", results: []capabilities.OperationResult{okResult()}}
	reg := newRegistryWith(t, map[string]*fakeAdapter{"openai": primary}, meta)

	exec := NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": primary}})

	def := PipelineDefinition{Name: "p", Steps: []PipelineStep{onePrimaryStep("step1", cap_, "openai")}}
	result, err := exec.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"step1"}, result.CompletedSteps)
	assert.True(t, result.TotalCostUsd.Equal(decimal.NewFromFloat(0.01)))
}

func TestExecutor_FallsBackToSecondProvider(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	primary := &fakeAdapter{name: "openai", results: []capabilities.OperationResult{failResult(providers.ErrCodeServiceUnavailable, false)}}
	fallback := &fakeAdapter{name: "anthropic", results: []capabilities.OperationResult{okResult()}}
	reg := newRegistryWith(t, map[string]*fakeAdapter{"openai": primary, "anthropic": fallback}, meta)

	exec := NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": primary, "anthropic": fallback}})

	step := onePrimaryStep("step1", cap_, "openai")
	def := PipelineDefinition{Name: "p", Steps: []PipelineStep{step}}
	result, err := exec.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	sr, ok := result.GetStepResult("step1")
	require.True(t, ok)
	assert.Equal(t, "anthropic", sr.ProviderUsed)
	assert.Equal(t, []string{"openai"}, sr.FallbacksAttempted)
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	adapter := &fakeAdapter{name: "openai", results: []capabilities.OperationResult{
		failResult(providers.ErrCodeRateLimited, true),
		okResult(),
	}}
	reg := newRegistryWith(t, map[string]*fakeAdapter{"openai": adapter}, meta)
	exec := NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": adapter}})

	step := onePrimaryStep("step1", cap_, "openai")
	step.RetryPolicy = RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1, ExponentialBackoff: true, BackoffMultiplier: 2, MaxDelayMs: 10}
	def := PipelineDefinition{Name: "p", Steps: []PipelineStep{step}}

	result, err := exec.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, adapter.calls)
}

func TestExecutor_ZeroTimeoutFailsImmediately(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	adapter := &fakeAdapter{name: "openai", results: []capabilities.OperationResult{okResult()}, sleep: 0}
	reg := newRegistryWith(t, map[string]*fakeAdapter{"openai": adapter}, meta)
	exec := NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": adapter}})

	step := onePrimaryStep("step1", cap_, "openai")
	step.TimeoutSeconds = 0
	step.FallbackConfig.Enabled = false
	def := PipelineDefinition{Name: "p", Steps: []PipelineStep{step}}

	result, err := exec.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	sr, ok := result.GetStepResult("step1")
	require.True(t, ok)
	assert.Equal(t, providers.ErrCodeTimeout, sr.ErrorCode)
	assert.Equal(t, 0, adapter.calls)
}

func TestExecutor_SkippedStepPreservesProgress(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	adapter := &fakeAdapter{name: "openai", results: []capabilities.OperationResult{okResult()}}
	reg := newRegistryWith(t, map[string]*fakeAdapter{"openai": adapter}, meta)
	exec := NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": adapter}})

	skipped := onePrimaryStep("gate", cap_, "openai")
	skipped.Condition = &Condition{ContextPath: "flag", Operator: OpExists}
	ran := onePrimaryStep("runs", cap_, "openai")

	def := PipelineDefinition{Name: "p", Steps: []PipelineStep{skipped, ran}}
	result, err := exec.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	sr, ok := result.GetStepResult("gate")
	require.True(t, ok)
	assert.Equal(t, StepSkipped, sr.Status)
	assert.Equal(t, []string{"runs"}, result.CompletedSteps)
}

func TestExecutor_RequiredStepFailureTriggersCompensation(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	good := &fakeAdapter{name: "openai", results: []capabilities.OperationResult{okResult()}}
	bad := &fakeAdapter{name: "anthropic", results: []capabilities.OperationResult{failResult(providers.ErrCodeAuthFailed, false)}}
	reg := newRegistryWith(t, map[string]*fakeAdapter{"openai": good, "anthropic": bad}, meta)
	exec := NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": good, "anthropic": bad}})

	compensated := false
	step1 := onePrimaryStep("step1", cap_, "openai")
	step1.FallbackConfig.Enabled = false
	step1.Compensation = &CompensationAction{
		Handler:        func(data map[string]any) (bool, error) { compensated = true; return true, nil },
		TimeoutSeconds: 1,
	}
	step2 := onePrimaryStep("step2", cap_, "anthropic")
	step2.FallbackConfig.Enabled = false

	def := PipelineDefinition{
		Name:               "p",
		Steps:              []PipelineStep{step1, step2},
		EnableCompensation: true,
		FailFast:           true,
	}

	result, err := exec.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "step2", result.FailedStep)
	assert.True(t, result.CompensationPerformed)
	assert.Equal(t, []string{"step1"}, result.CompensatedSteps)
	assert.True(t, compensated)
}

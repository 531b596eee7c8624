package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/budget"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/pipelines"
)

type scriptedAdapter struct {
	name   string
	result capabilities.OperationResult
}

func (a *scriptedAdapter) Execute(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	r := a.result
	r.ProviderName = a.name
	r.Capability = capability
	return r
}

func (a *scriptedAdapter) HealthCheck(ctx context.Context) bool { return true }
func (a *scriptedAdapter) Registration() capabilities.ProviderRegistration {
	return capabilities.ProviderRegistration{ProviderName: a.name}
}

type fakeAdapterSource struct {
	byName map[string]capabilities.Adapter
}

func (f *fakeAdapterSource) GetOrCreate(provider, apiKey, model string, factory capabilities.AdapterFactory) (capabilities.Adapter, error) {
	if a, ok := f.byName[provider]; ok {
		return a, nil
	}
	return factory(apiKey, model)
}

func buildOrchestrator(t *testing.T, rt *Runtime) *Orchestrator {
	t.Helper()
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	adapter := &scriptedAdapter{name: "openai", result: capabilities.OperationResult{
		Success: true, Data: map[string]any{"text": "ok"}, CostUsd: decimal.NewFromFloat(0.05),
	}}

	reg := capabilities.NewRegistry()
	reg.RegisterProvider(capabilities.ProviderRegistration{
		ProviderName: "openai",
		ProviderType: capabilities.ProviderType("http"),
		Capabilities: []capabilities.CapabilityMetadata{meta},
		IsAvailable:  true,
	}, func(apiKey, model string) (capabilities.Adapter, error) { return adapter, nil })

	exec := pipelines.NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": adapter}})

	step := pipelines.PipelineStep{
		Name:               "step1",
		Capability:         cap_,
		ProviderPreference: []string{"openai"},
		RetryPolicy:        pipelines.RetryPolicy{MaxAttempts: 1, InitialDelayMs: 1},
		TimeoutSeconds:     5,
		Required:           true,
		ProgressWeight:     1,
	}
	def := pipelines.PipelineDefinition{Name: "call_analysis", Version: "1.0.0", Steps: []pipelines.PipelineStep{step}}

	return New(def, exec, rt)
}

func TestOrchestrator_ExecuteSucceedsAndTracksSpend(t *testing.T) {
	rt := NewRuntime()
	orch := buildOrchestrator(t, rt)
	tenant := "tenant-a"

	result, err := orch.Execute(context.Background(), map[string]any{}, ExecuteOptions{TenantID: &tenant})
	require.NoError(t, err)
	assert.True(t, result.Success)

	summary, err := orch.GetSpendSummary(context.Background(), tenant, budget.PeriodDaily)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.True(t, summary.TotalSpendUsd.Equal(decimal.NewFromFloat(0.05)))
}

func TestOrchestrator_PreFlightBudgetBlockPreventsExecution(t *testing.T) {
	rt := NewRuntime()
	orch := buildOrchestrator(t, rt)
	tenant := "tenant-blocked"

	_, err := rt.Budget.SetBudget(context.Background(), tenant, ptr("0.01"), nil, nil, 80, budget.PolicyHardBlock, true)
	require.NoError(t, err)
	_, err = rt.Budget.TrackSpend(context.Background(), tenant, decimal.NewFromFloat(0.02), "", "", "", "", nil)
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{}, ExecuteOptions{TenantID: &tenant})
	require.Error(t, err)
	assert.Equal(t, pipelines.PipelineResult{}, result)

	var exceeded *budget.ErrExceeded
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, budget.ActionBlocked, exceeded.Result.Action)

	events := orch.GetEvents(result.ExecutionID)
	assert.Empty(t, events)
}

func TestOrchestrator_SkipBudgetCheckBypassesEnforcement(t *testing.T) {
	rt := NewRuntime()
	orch := buildOrchestrator(t, rt)
	tenant := "tenant-blocked"

	_, err := rt.Budget.SetBudget(context.Background(), tenant, ptr("0.01"), nil, nil, 80, budget.PolicyHardBlock, true)
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{}, ExecuteOptions{TenantID: &tenant, SkipBudgetCheck: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestOrchestrator_WorkflowStateReflectsCompletedExecution(t *testing.T) {
	rt := NewRuntime()
	orch := buildOrchestrator(t, rt)

	result, err := orch.Execute(context.Background(), map[string]any{}, ExecuteOptions{})
	require.NoError(t, err)

	state, ok := orch.GetWorkflowState(result.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, "completed", state["status"])

	progress, ok := orch.GetProgress(result.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, 100.0, progress["progress_percent"])
}

func ptr(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return &d
}

package saga

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/events"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/pipelines"
)

type scriptedAdapter struct {
	name    string
	results []capabilities.OperationResult
	calls   int
}

func (a *scriptedAdapter) Execute(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	a.calls++
	idx := a.calls - 1
	if idx >= len(a.results) {
		idx = len(a.results) - 1
	}
	r := a.results[idx]
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

func buildStep(name string, cap_ capabilities.Capability, provider string, required bool) pipelines.PipelineStep {
	return pipelines.PipelineStep{
		Name:                name,
		Capability:          cap_,
		ProviderPreference:  []string{provider},
		RetryPolicy:         pipelines.RetryPolicy{MaxAttempts: 1, InitialDelayMs: 1},
		FallbackConfig:      pipelines.FallbackConfig{Enabled: false},
		TimeoutSeconds:      5,
		Required:            required,
		ProgressWeight:      1,
	}
}

func TestCoordinator_HappyPathEmitsFullLifecycle(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	adapter := &scriptedAdapter{name: "openai", results: []capabilities.OperationResult{
		{Success: true, Data: map[string]any{"text": "ok"}, CostUsd: decimal.NewFromFloat(0.02)},
	}}

	reg := capabilities.NewRegistry()
	reg.RegisterProvider(capabilities.ProviderRegistration{
		ProviderName: "openai",
		ProviderType: capabilities.ProviderType("http"),
		Capabilities: []capabilities.CapabilityMetadata{meta},
		IsAvailable:  true,
	}, func(apiKey, model string) (capabilities.Adapter, error) { return adapter, nil })

	exec := pipelines.NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": adapter}})

	store := events.NewInMemoryStore(nil)
	defer store.Close()
	pub := events.NewPublisher(store)
	coord := NewCoordinator(exec, pub)

	def := pipelines.PipelineDefinition{Name: "p", Steps: []pipelines.PipelineStep{buildStep("step1", cap_, "openai", true)}}
	result, err := coord.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)

	got := store.GetEvents(result.ExecutionID)
	require.NotEmpty(t, got)
	assert.Equal(t, events.EventTypeWorkflowStarted, got[0].Type)
	assert.Equal(t, events.EventTypeWorkflowCompleted, got[len(got)-1].Type)

	var sawStepCompleted bool
	for _, e := range got {
		if e.Type == events.EventTypeStepCompleted {
			sawStepCompleted = true
		}
	}
	assert.True(t, sawStepCompleted)
}

func TestCoordinator_PositiveCostEmitsCostIncurredBeforeStepCompleted(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	adapter := &scriptedAdapter{name: "openai", results: []capabilities.OperationResult{
		{Success: true, Data: map[string]any{"text": "ok"}, CostUsd: decimal.NewFromFloat(0.006)},
	}}

	reg := capabilities.NewRegistry()
	reg.RegisterProvider(capabilities.ProviderRegistration{
		ProviderName: "openai",
		ProviderType: capabilities.ProviderType("http"),
		Capabilities: []capabilities.CapabilityMetadata{meta},
		IsAvailable:  true,
	}, func(apiKey, model string) (capabilities.Adapter, error) { return adapter, nil })

	exec := pipelines.NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": adapter}})

	store := events.NewInMemoryStore(nil)
	defer store.Close()
	pub := events.NewPublisher(store)
	coord := NewCoordinator(exec, pub)

	def := pipelines.PipelineDefinition{Name: "p", Steps: []pipelines.PipelineStep{buildStep("transcribe", cap_, "openai", true)}}
	result, err := coord.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	got := store.GetEvents(result.ExecutionID)
	var costIdx, completedIdx int
	for i, e := range got {
		switch e.Type {
		case events.EventTypeCostIncurred:
			costIdx = i
		case events.EventTypeStepCompleted:
			completedIdx = i
		}
	}
	require.NotZero(t, costIdx)
	assert.Less(t, costIdx, completedIdx)

	payload, ok := got[costIdx].Payload.(events.CostIncurredEvent)
	require.True(t, ok)
	assert.Equal(t, "transcribe", payload.StepName)
	assert.Equal(t, "openai", payload.Provider)
	assert.Equal(t, "0.006", payload.CostUsd)
}

func TestCoordinator_ZeroCostStepEmitsNoCostIncurred(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	adapter := &scriptedAdapter{name: "openai", results: []capabilities.OperationResult{
		{Success: true, Data: map[string]any{"text": "ok"}, CostUsd: decimal.Zero},
	}}

	reg := capabilities.NewRegistry()
	reg.RegisterProvider(capabilities.ProviderRegistration{
		ProviderName: "openai",
		ProviderType: capabilities.ProviderType("http"),
		Capabilities: []capabilities.CapabilityMetadata{meta},
		IsAvailable:  true,
	}, func(apiKey, model string) (capabilities.Adapter, error) { return adapter, nil })

	exec := pipelines.NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": adapter}})

	store := events.NewInMemoryStore(nil)
	defer store.Close()
	pub := events.NewPublisher(store)
	coord := NewCoordinator(exec, pub)

	def := pipelines.PipelineDefinition{Name: "p", Steps: []pipelines.PipelineStep{buildStep("step1", cap_, "openai", true)}}
	result, err := coord.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	got := store.GetEvents(result.ExecutionID)
	for _, e := range got {
		assert.NotEqual(t, events.EventTypeCostIncurred, e.Type)
	}
}

func TestCoordinator_CheckpointStepEmitsCheckpointReached(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	transcribe := &scriptedAdapter{name: "deepgram", results: []capabilities.OperationResult{
		{Success: true, Data: map[string]any{"text": "hi"}, CostUsd: decimal.Zero},
	}}
	redact := &scriptedAdapter{name: "internal", results: []capabilities.OperationResult{
		{Success: true, Data: map[string]any{"text": "hi"}, CostUsd: decimal.Zero},
	}}

	reg := capabilities.NewRegistry()
	reg.RegisterProvider(capabilities.ProviderRegistration{ProviderName: "deepgram", ProviderType: capabilities.ProviderType("http"), Capabilities: []capabilities.CapabilityMetadata{meta}, IsAvailable: true},
		func(apiKey, model string) (capabilities.Adapter, error) { return transcribe, nil })
	reg.RegisterProvider(capabilities.ProviderRegistration{ProviderName: "internal", ProviderType: capabilities.ProviderType("http"), Capabilities: []capabilities.CapabilityMetadata{meta}, IsAvailable: true},
		func(apiKey, model string) (capabilities.Adapter, error) { return redact, nil })

	exec := pipelines.NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"deepgram": transcribe, "internal": redact}})

	store := events.NewInMemoryStore(nil)
	defer store.Close()
	pub := events.NewPublisher(store)
	coord := NewCoordinator(exec, pub)

	def := pipelines.PipelineDefinition{
		Name: "p",
		Steps: []pipelines.PipelineStep{
			buildStep("transcribe", cap_, "deepgram", true),
			buildStep("redact_pii", cap_, "internal", true),
		},
		ProgressCheckpoints: []string{"transcribe"},
	}
	result, err := coord.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	got := store.GetEvents(result.ExecutionID)
	var found bool
	for _, e := range got {
		if e.Type == events.EventTypeCheckpointReached {
			found = true
			payload, ok := e.Payload.(events.CheckpointReachedEvent)
			require.True(t, ok)
			assert.Equal(t, "transcribe", payload.Checkpoint)
			assert.Equal(t, 50.0, payload.Percent)
		}
	}
	assert.True(t, found, "expected a checkpoint.reached event")
}

func TestCoordinator_CompensationNarratesRollback(t *testing.T) {
	cap_ := capabilities.Capability("transcribe")
	meta := capabilities.CapabilityMetadata{Capability: cap_, QualityTier: capabilities.Standard}
	good := &scriptedAdapter{name: "openai", results: []capabilities.OperationResult{
		{Success: true, Data: map[string]any{"text": "ok"}, CostUsd: decimal.Zero},
	}}
	bad := &scriptedAdapter{name: "anthropic", results: []capabilities.OperationResult{
		{Success: false, Error: "boom", ErrorCode: "AUTH_FAILED", Retryable: false},
	}}

	reg := capabilities.NewRegistry()
	reg.RegisterProvider(capabilities.ProviderRegistration{ProviderName: "openai", ProviderType: capabilities.ProviderType("http"), Capabilities: []capabilities.CapabilityMetadata{meta}, IsAvailable: true},
		func(apiKey, model string) (capabilities.Adapter, error) { return good, nil })
	reg.RegisterProvider(capabilities.ProviderRegistration{ProviderName: "anthropic", ProviderType: capabilities.ProviderType("http"), Capabilities: []capabilities.CapabilityMetadata{meta}, IsAvailable: true},
		func(apiKey, model string) (capabilities.Adapter, error) { return bad, nil })

	exec := pipelines.NewExecutor(reg, &fakeAdapterSource{byName: map[string]capabilities.Adapter{"openai": good, "anthropic": bad}})

	store := events.NewInMemoryStore(nil)
	defer store.Close()
	pub := events.NewPublisher(store)
	coord := NewCoordinator(exec, pub)

	step1 := buildStep("step1", cap_, "openai", true)
	compensated := false
	step1.Compensation = &pipelines.CompensationAction{
		Handler:        func(data map[string]any) (bool, error) { compensated = true; return true, nil },
		TimeoutSeconds: 1,
	}
	step2 := buildStep("step2", cap_, "anthropic", true)

	def := pipelines.PipelineDefinition{Name: "p", Steps: []pipelines.PipelineStep{step1, step2}, EnableCompensation: true, FailFast: true}
	result, err := coord.Execute(context.Background(), def, map[string]any{}, nil, nil, nil, nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, compensated)

	got := store.GetEvents(result.ExecutionID)
	var sawCompensationStarted, sawCompensationCompleted, sawWorkflowFailed bool
	for _, e := range got {
		switch e.Type {
		case events.EventTypeCompensationStarted:
			sawCompensationStarted = true
		case events.EventTypeCompensationCompleted:
			sawCompensationCompleted = true
		case events.EventTypeWorkflowFailed:
			sawWorkflowFailed = true
		}
	}
	assert.True(t, sawCompensationStarted)
	assert.True(t, sawCompensationCompleted)
	assert.True(t, sawWorkflowFailed)
}

// Package pipelines defines the value types, fluent builder, and executor for
// composable AI workflows: ordered sequences of capability-tagged steps with
// provider fallback, retry, conditional execution, and saga-style compensation.
package pipelines

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
)

// StepStatus is the lifecycle state of one pipeline step within an execution.
type StepStatus string

const (
	StepPending      StepStatus = "pending"
	StepRunning      StepStatus = "running"
	StepCompleted    StepStatus = "completed"
	StepFailed       StepStatus = "failed"
	StepSkipped      StepStatus = "skipped"
	StepCompensating StepStatus = "compensating"
	StepCompensated  StepStatus = "compensated"
)

// ConditionalOperator is the comparison a Condition evaluates.
type ConditionalOperator string

const (
	OpEquals      ConditionalOperator = "eq"
	OpNotEquals   ConditionalOperator = "neq"
	OpContains    ConditionalOperator = "contains"
	OpExists      ConditionalOperator = "exists"
	OpNotExists   ConditionalOperator = "not_exists"
	OpGreaterThan ConditionalOperator = "gt"
	OpLessThan    ConditionalOperator = "lt"
)

// Condition gates whether a step executes. Either ContextPath/Operator/Value
// are set (a path-based predicate evaluated by dot-navigating Context.Data), or
// Func is set (the Go analogue of the source's closure-based conditions).
type Condition struct {
	ContextPath string
	Operator    ConditionalOperator
	Value       any
	Func        func(data map[string]any) bool
}

// Evaluate reports whether the condition holds against the current context data.
func (c Condition) Evaluate(data map[string]any) bool {
	if c.Func != nil {
		return c.Func(data)
	}
	current := navigate(data, c.ContextPath)
	switch c.Operator {
	case OpExists:
		return current != nil
	case OpNotExists:
		return current == nil
	case OpEquals:
		return current == c.Value
	case OpNotEquals:
		return current != c.Value
	case OpContains:
		return containsValue(current, c.Value)
	case OpGreaterThan:
		return compareOrdered(current, c.Value) > 0
	case OpLessThan:
		return compareOrdered(current, c.Value) < 0
	default:
		return false
	}
}

// navigate walks a dot-separated path through nested maps, returning nil on
// any missing segment (mirrors the source's "return None on any missing part").
func navigate(data map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	case []any:
		for _, v := range h {
			if v == needle {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compareOrdered compares two numeric values; returns 0 (neither greater nor
// less) if either operand isn't a comparable numeric type.
func compareOrdered(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0
	}
	switch {
	case af > bf:
		return 1
	case af < bf:
		return -1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// RetryPolicy configures how a step retries across attempts on a single provider.
type RetryPolicy struct {
	MaxAttempts         int
	InitialDelayMs      int
	ExponentialBackoff  bool
	BackoffMultiplier   float64
	MaxDelayMs          int
	RetryableErrors     []string // nil = retry any retryable error code
}

// DefaultRetryPolicy mirrors the source's dataclass defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        3,
		InitialDelayMs:     1000,
		ExponentialBackoff: true,
		BackoffMultiplier:  2.0,
		MaxDelayMs:         30000,
	}
}

// DelayForAttempt returns the delay before retrying attempt n (1-indexed).
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Duration(p.InitialDelayMs) * time.Millisecond
	}
	delay := float64(p.InitialDelayMs)
	if p.ExponentialBackoff {
		mult := 1.0
		for i := 1; i < attempt; i++ {
			mult *= p.BackoffMultiplier
		}
		delay = float64(p.InitialDelayMs) * mult
	}
	if delay > float64(p.MaxDelayMs) {
		delay = float64(p.MaxDelayMs)
	}
	return time.Duration(delay) * time.Millisecond
}

// AllowsErrorCode reports whether RetryableErrors permits retrying errorCode
// (always true when the allow-list is nil).
func (p RetryPolicy) AllowsErrorCode(errorCode string) bool {
	if p.RetryableErrors == nil {
		return true
	}
	for _, c := range p.RetryableErrors {
		if c == errorCode {
			return true
		}
	}
	return false
}

// FallbackConfig controls how a step's fallback chain is built and traversed.
type FallbackConfig struct {
	Enabled                     bool
	MaxFallbacks                int
	PreferSameQuality           bool
	FallbackQualityDegradation  bool
	ExcludedProviders           []string
}

// DefaultFallbackConfig mirrors the source's dataclass defaults.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Enabled:                    true,
		MaxFallbacks:               3,
		PreferSameQuality:          true,
		FallbackQualityDegradation: true,
	}
}

// CompensationAction is a per-step saga rollback handler.
type CompensationAction struct {
	Handler         func(data map[string]any) (bool, error)
	Description     string
	TimeoutSeconds  int
	Required        bool
}

// PipelineStep is one unit of work in a pipeline, pinned to a capability.
type PipelineStep struct {
	Name        string
	Description string

	Capability            capabilities.Capability
	ProviderPreference    []string
	RequiredQualityTier   *capabilities.QualityTier

	Options map[string]any

	InputKey        string
	OutputKey       string
	InputTransform  func(data map[string]any) (any, error)
	OutputTransform func(output any) (any, error)

	Condition          *Condition
	ContinueOnFailure  bool
	Required           bool

	FallbackConfig FallbackConfig
	RetryPolicy    RetryPolicy
	TimeoutSeconds int

	Compensation *CompensationAction

	ProgressWeight float64
}

// GetOutputKey returns OutputKey, defaulting to Name.
func (s PipelineStep) GetOutputKey() string {
	if s.OutputKey != "" {
		return s.OutputKey
	}
	return s.Name
}

// ShouldExecute reports whether the step's condition (if any) permits running.
func (s PipelineStep) ShouldExecute(data map[string]any) bool {
	if s.Condition == nil {
		return true
	}
	return s.Condition.Evaluate(data)
}

// GetInput computes this step's input: InputTransform(data) if set, else
// context[InputKey] if InputKey is set, else the full context data.
func (s PipelineStep) GetInput(data map[string]any) (any, error) {
	var raw any = data
	if s.InputKey != "" {
		raw = data[s.InputKey]
	}
	if s.InputTransform != nil {
		return s.InputTransform(data)
	}
	return raw, nil
}

// PipelineDefinition is an immutable, reusable pipeline specification.
type PipelineDefinition struct {
	Name        string
	Version     string
	Description string
	Tags        []string

	Steps []PipelineStep

	TimeoutSeconds    int
	MaxConcurrentSteps int
	FailFast          bool

	EnableCompensation         bool
	CompensationTimeoutSeconds int

	ProgressCheckpoints []string

	EstimatedDurationSeconds *int
	EstimatedCostUsd         *decimal.Decimal
}

// GetStep returns the step named name, if present.
func (d PipelineDefinition) GetStep(name string) (PipelineStep, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return PipelineStep{}, false
}

// TotalProgressWeight sums every step's ProgressWeight.
func (d PipelineDefinition) TotalProgressWeight() float64 {
	total := 0.0
	for _, s := range d.Steps {
		total += s.ProgressWeight
	}
	return total
}

// PipelineContext is the mutable, single-owner runtime state for one execution.
type PipelineContext struct {
	ExecutionID  string
	PipelineName string
	TenantID     *string

	Data         map[string]any
	InitialInput map[string]any

	CurrentStep    string
	CompletedSteps []string
	StepResults    map[string]*StepResult

	ProgressPercent float64
	ProgressMessage string
	LastCheckpoint  string

	StartedAt      time.Time
	LastUpdatedAt  time.Time

	CompensatedSteps   []string
	CompensationErrors []string

	FailedStep   string
	FailureError string
}

// NewPipelineContext seeds a fresh context for one execution.
func NewPipelineContext(pipelineName string, tenantID *string, input map[string]any) *PipelineContext {
	now := time.Now()
	data := make(map[string]any, len(input))
	for k, v := range input {
		data[k] = v
	}
	return &PipelineContext{
		ExecutionID:  uuid.NewString(),
		PipelineName: pipelineName,
		TenantID:     tenantID,
		Data:         data,
		InitialInput: input,
		StepResults:  make(map[string]*StepResult),
		StartedAt:    now,
		LastUpdatedAt: now,
	}
}

// Get reads a key from Data, with a default.
func (c *PipelineContext) Get(key string, def any) any {
	if v, ok := c.Data[key]; ok {
		return v
	}
	return def
}

// Set writes a key into Data and bumps LastUpdatedAt.
func (c *PipelineContext) Set(key string, value any) {
	c.Data[key] = value
	c.LastUpdatedAt = time.Now()
}

// SetProgress clamps and records progress percent/message.
func (c *PipelineContext) SetProgress(percent float64, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	c.ProgressPercent = percent
	c.ProgressMessage = message
	c.LastUpdatedAt = time.Now()
}

// StepResult is the outcome of executing a single pipeline step.
type StepResult struct {
	StepName  string
	Status    StepStatus

	OperationResult *capabilities.OperationResult
	ProviderUsed    string
	FallbacksAttempted []string
	Retries         int

	StartedAt   time.Time
	CompletedAt time.Time

	Error         string
	ErrorCode     string
	SkippedReason string
}

// DurationMs returns the step's wall-clock duration, or 0 if not both timestamps are set.
func (r StepResult) DurationMs() float64 {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return float64(r.CompletedAt.Sub(r.StartedAt).Microseconds()) / 1000.0
}

// CostUsd returns the operation result's cost, or zero.
func (r StepResult) CostUsd() decimal.Decimal {
	if r.OperationResult == nil {
		return decimal.Zero
	}
	return r.OperationResult.CostUsd
}

// PipelineResult is the final summary returned from executing a pipeline.
type PipelineResult struct {
	ExecutionID     string
	PipelineName    string
	PipelineVersion string

	Success        bool
	CompletedSteps []string
	FailedStep     string
	Error          string

	Output      map[string]any
	StepResults map[string]*StepResult

	TotalDurationMs float64
	TotalCostUsd    decimal.Decimal

	StartedAt   time.Time
	CompletedAt time.Time

	CompensationPerformed bool
	CompensatedSteps      []string
}

// GetStepResult returns the result for stepName, if present.
func (r PipelineResult) GetStepResult(stepName string) (*StepResult, bool) {
	sr, ok := r.StepResults[stepName]
	return sr, ok
}

// GetOutput reads a key from Output, with a default.
func (r PipelineResult) GetOutput(key string, def any) any {
	if v, ok := r.Output[key]; ok {
		return v
	}
	return def
}

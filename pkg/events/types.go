// Package events provides an append-only, in-process event log for AI
// workflow executions, plus a subscription mechanism for live progress
// delivery.
//
// ════════════════════════════════════════════════════════════════
// Event Lifecycle
// ════════════════════════════════════════════════════════════════
//
// A single pipeline execution emits a sequence of events bracketing
// workflow-level, step-level, provider-fallback, and (when a required step
// fails) compensation-level activity:
//
//	workflow.started
//	  step.started
//	  (provider.fallback)*
//	  (cost.incurred)?
//	  step.completed | step.failed
//	  checkpoint.reached?
//	  ...
//	budget.warning?
//	compensation.started?
//	  compensation.step*
//	compensation.completed?
//	workflow.completed | workflow.failed
//
// Every event carries the owning execution's ID so a subscriber filtering on
// ExecutionID sees a consistent, ordered sub-sequence regardless of what
// else the store holds for other tenants and executions. See pkg/saga's
// Coordinator for where each of these events is emitted.
// ════════════════════════════════════════════════════════════════
package events

import "time"

// EventType discriminates the concrete payload carried by an Event.
type EventType string

const (
	EventTypeWorkflowStarted   EventType = "workflow.started"
	EventTypeWorkflowCompleted EventType = "workflow.completed"
	EventTypeWorkflowFailed    EventType = "workflow.failed"

	EventTypeStepStarted   EventType = "step.started"
	EventTypeStepCompleted EventType = "step.completed"
	EventTypeStepFailed    EventType = "step.failed"
	EventTypeStepSkipped   EventType = "step.skipped"
	EventTypeStepRetrying  EventType = "step.retrying"

	EventTypeProviderFallback    EventType = "provider.fallback"
	EventTypeProviderUnavailable EventType = "provider.unavailable"

	EventTypeCompensationStarted   EventType = "compensation.started"
	EventTypeCompensationStep      EventType = "compensation.step"
	EventTypeCompensationCompleted EventType = "compensation.completed"

	EventTypeBudgetWarning  EventType = "budget.warning"
	EventTypeBudgetExceeded EventType = "budget.exceeded"
	EventTypeCostIncurred   EventType = "cost.incurred"

	EventTypeProgressUpdated EventType = "progress.updated"

	EventTypePipelineQueued     EventType = "pipeline.queued"
	EventTypePipelineStarted    EventType = "pipeline.started"
	EventTypePipelineCompleted  EventType = "pipeline.completed"
	EventTypeCheckpointReached  EventType = "checkpoint.reached"
	EventTypeSpendRecorded      EventType = "spend.recorded"
	EventTypeCircuitBreakerTrip EventType = "circuit_breaker.tripped"
)

// Event is the envelope every concrete payload is carried in. Store and
// Publisher operate on Event; callers type-assert Payload to the struct
// matching Type when they need type-specific fields.
type Event struct {
	ID          int64     `json:"id"`
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload"`
}

// WorkflowStartedEvent marks the beginning of a pipeline execution.
type WorkflowStartedEvent struct {
	PipelineName    string         `json:"pipeline_name"`
	PipelineVersion string         `json:"pipeline_version"`
	Input           map[string]any `json:"input,omitempty"`
}

// WorkflowCompletedEvent marks a pipeline execution's successful end.
type WorkflowCompletedEvent struct {
	CompletedSteps  []string `json:"completed_steps"`
	TotalDurationMs float64  `json:"total_duration_ms"`
	TotalCostUsd    string   `json:"total_cost_usd"`
}

// WorkflowFailedEvent marks a pipeline execution's terminal failure.
type WorkflowFailedEvent struct {
	FailedStep            string   `json:"failed_step"`
	Error                 string   `json:"error"`
	CompensationPerformed bool     `json:"compensation_performed"`
	CompensatedSteps      []string `json:"compensated_steps,omitempty"`
}

// StepStartedEvent marks a single step beginning execution.
type StepStartedEvent struct {
	StepName   string `json:"step_name"`
	Capability string `json:"capability"`
}

// StepCompletedEvent marks a step's successful completion.
type StepCompletedEvent struct {
	StepName     string  `json:"step_name"`
	ProviderUsed string  `json:"provider_used"`
	Retries      int     `json:"retries"`
	DurationMs   float64 `json:"duration_ms"`
	CostUsd      string  `json:"cost_usd"`
}

// StepFailedEvent marks a step's terminal failure (after fallback and retry
// exhaustion).
type StepFailedEvent struct {
	StepName  string `json:"step_name"`
	ErrorCode string `json:"error_code"`
	Error     string `json:"error"`
	Required  bool   `json:"required"`
}

// StepSkippedEvent marks a step bypassed by its Condition.
type StepSkippedEvent struct {
	StepName string `json:"step_name"`
	Reason   string `json:"reason"`
}

// StepRetryingEvent marks an about-to-happen retry attempt on the same provider.
type StepRetryingEvent struct {
	StepName     string `json:"step_name"`
	ProviderUsed string `json:"provider_used"`
	Attempt      int    `json:"attempt"`
	ErrorCode    string `json:"error_code"`
	DelayMs      int    `json:"delay_ms"`
}

// ProviderFallbackEvent marks a step moving from one provider to the next
// entry in its fallback chain. Only emitted when a subsequent provider
// remains to try.
type ProviderFallbackEvent struct {
	StepName        string `json:"step_name"`
	FailedProvider  string `json:"failed_provider"`
	NextProvider    string `json:"next_provider"`
	ErrorCode       string `json:"error_code"`
	RemainingChain  int    `json:"remaining_chain"`
}

// ProviderUnavailableEvent marks a circuit-broken or otherwise unreachable
// provider being skipped while building a fallback chain.
type ProviderUnavailableEvent struct {
	StepName string `json:"step_name"`
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// CompensationStartedEvent marks the beginning of the reverse-order
// compensation loop after a required step's failure.
type CompensationStartedEvent struct {
	FailedStep  string   `json:"failed_step"`
	StepsToUndo []string `json:"steps_to_undo"`
}

// CompensationStepEvent reports the outcome of compensating a single step.
type CompensationStepEvent struct {
	StepName string `json:"step_name"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// CompensationCompletedEvent marks the end of the compensation loop.
type CompensationCompletedEvent struct {
	FullRollback     bool     `json:"full_rollback"`
	CompensatedSteps []string `json:"compensated_steps"`
	FailedSteps      []string `json:"failed_steps,omitempty"`
}

// BudgetWarningEvent marks spend crossing a tenant's warn threshold without
// blocking execution.
type BudgetWarningEvent struct {
	Period         string `json:"period"`
	PercentUsed    string `json:"percent_used"`
	CurrentSpend   string `json:"current_spend"`
	Limit          string `json:"limit"`
}

// BudgetExceededEvent marks a hard budget block (SOFT_BLOCK/HARD_BLOCK).
type BudgetExceededEvent struct {
	Period       string `json:"period"`
	CurrentSpend string `json:"current_spend"`
	Limit        string `json:"limit"`
	Policy       string `json:"policy"`
}

// CostIncurredEvent marks a step's OperationResult reporting a positive
// CostUsd, emitted between that step's StepStartedEvent and its terminal
// StepCompletedEvent.
type CostIncurredEvent struct {
	StepName string `json:"step_name"`
	Provider string `json:"provider"`
	CostUsd  string `json:"cost_usd"`
}

// ProgressUpdatedEvent reports incremental progress, emitted on each progress
// update the executor reports (before each step that runs, when compensation
// starts, and at completion).
type ProgressUpdatedEvent struct {
	PercentComplete float64 `json:"percent_complete"`
	Message         string  `json:"message"`
}

// PipelineQueuedEvent marks a pipeline accepted but not yet started (pending
// a budget pre-flight check).
type PipelineQueuedEvent struct {
	PipelineName string `json:"pipeline_name"`
}

// PipelineStartedEvent is an orchestrator-level wrapper around
// WorkflowStartedEvent carrying the tenant's pre-flight budget decision.
type PipelineStartedEvent struct {
	PipelineName string `json:"pipeline_name"`
	BudgetOk     bool   `json:"budget_ok"`
}

// PipelineCompletedEvent marks the end of an orchestrator-level execution,
// successful or not. Orchestrator.Execute does not publish it; its deferred
// Metrics.PipelineCompleted call is what brings the in-flight gauge down.
type PipelineCompletedEvent struct {
	Success bool `json:"success"`
}

// CheckpointReachedEvent marks the pipeline crossing one of its named
// progress checkpoints.
type CheckpointReachedEvent struct {
	Checkpoint string  `json:"checkpoint"`
	Percent    float64 `json:"percent"`
}

// SpendRecordedEvent marks a completed execution's cost being posted to the
// budget service.
type SpendRecordedEvent struct {
	Provider string `json:"provider"`
	AmountUsd string `json:"amount_usd"`
}

// CircuitBreakerTripEvent marks a provider's circuit breaker opening.
type CircuitBreakerTripEvent struct {
	Provider string `json:"provider"`
	State    string `json:"state"`
}

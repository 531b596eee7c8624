package events

import "context"

// Publisher wraps a Store with one method per event type so call sites in
// pkg/pipelines, pkg/saga, and pkg/orchestrator never construct an Event
// envelope by hand.
type Publisher struct {
	store Store
}

// NewPublisher wraps store.
func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) emit(ctx context.Context, executionID, tenantID string, t EventType, payload any) {
	if p == nil || p.store == nil {
		return
	}
	_, _ = p.store.Append(ctx, Event{
		Type:        t,
		ExecutionID: executionID,
		TenantID:    tenantID,
		Payload:     payload,
	})
}

func (p *Publisher) WorkflowStarted(ctx context.Context, executionID, tenantID string, e WorkflowStartedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeWorkflowStarted, e)
}

func (p *Publisher) WorkflowCompleted(ctx context.Context, executionID, tenantID string, e WorkflowCompletedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeWorkflowCompleted, e)
}

func (p *Publisher) WorkflowFailed(ctx context.Context, executionID, tenantID string, e WorkflowFailedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeWorkflowFailed, e)
}

func (p *Publisher) StepStarted(ctx context.Context, executionID, tenantID string, e StepStartedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeStepStarted, e)
}

func (p *Publisher) StepCompleted(ctx context.Context, executionID, tenantID string, e StepCompletedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeStepCompleted, e)
}

func (p *Publisher) StepFailed(ctx context.Context, executionID, tenantID string, e StepFailedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeStepFailed, e)
}

func (p *Publisher) StepSkipped(ctx context.Context, executionID, tenantID string, e StepSkippedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeStepSkipped, e)
}

func (p *Publisher) StepRetrying(ctx context.Context, executionID, tenantID string, e StepRetryingEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeStepRetrying, e)
}

func (p *Publisher) ProviderFallback(ctx context.Context, executionID, tenantID string, e ProviderFallbackEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeProviderFallback, e)
}

func (p *Publisher) ProviderUnavailable(ctx context.Context, executionID, tenantID string, e ProviderUnavailableEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeProviderUnavailable, e)
}

func (p *Publisher) CompensationStarted(ctx context.Context, executionID, tenantID string, e CompensationStartedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeCompensationStarted, e)
}

func (p *Publisher) CompensationStep(ctx context.Context, executionID, tenantID string, e CompensationStepEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeCompensationStep, e)
}

func (p *Publisher) CompensationCompleted(ctx context.Context, executionID, tenantID string, e CompensationCompletedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeCompensationCompleted, e)
}

func (p *Publisher) CostIncurred(ctx context.Context, executionID, tenantID string, e CostIncurredEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeCostIncurred, e)
}

func (p *Publisher) BudgetWarning(ctx context.Context, executionID, tenantID string, e BudgetWarningEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeBudgetWarning, e)
}

func (p *Publisher) BudgetExceeded(ctx context.Context, executionID, tenantID string, e BudgetExceededEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeBudgetExceeded, e)
}

func (p *Publisher) ProgressUpdated(ctx context.Context, executionID, tenantID string, e ProgressUpdatedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeProgressUpdated, e)
}

func (p *Publisher) PipelineQueued(ctx context.Context, executionID, tenantID string, e PipelineQueuedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypePipelineQueued, e)
}

func (p *Publisher) PipelineStarted(ctx context.Context, executionID, tenantID string, e PipelineStartedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypePipelineStarted, e)
}

func (p *Publisher) PipelineCompleted(ctx context.Context, executionID, tenantID string, e PipelineCompletedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypePipelineCompleted, e)
}

func (p *Publisher) CheckpointReached(ctx context.Context, executionID, tenantID string, e CheckpointReachedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeCheckpointReached, e)
}

func (p *Publisher) SpendRecorded(ctx context.Context, executionID, tenantID string, e SpendRecordedEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeSpendRecorded, e)
}

func (p *Publisher) CircuitBreakerTrip(ctx context.Context, executionID, tenantID string, e CircuitBreakerTripEvent) {
	p.emit(ctx, executionID, tenantID, EventTypeCircuitBreakerTrip, e)
}

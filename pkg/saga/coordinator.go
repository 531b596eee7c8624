// Package saga wraps pkg/pipelines.Executor with the event emission a
// pipeline execution owes the rest of the system: every step transition,
// provider fallback, and compensation action is appended to an
// pkg/events.Store so a subscriber can watch an execution live or replay it
// after the fact. Grounded on original_source's infra/ai/events/saga.py,
// which plays the identical role around the Python executor.
package saga

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/events"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/pipelines"
)

// Coordinator executes a pipeline through an Executor and narrates the run
// as a sequence of events on Publisher. It owns no retry, fallback, or
// compensation logic of its own — that stays in Executor — and is safe for
// concurrent use for the same reason Executor is: each Execute call owns its
// own PipelineContext.
type Coordinator struct {
	Executor  *pipelines.Executor
	Publisher *events.Publisher
}

// NewCoordinator builds a Coordinator around executor, narrating onto
// publisher. publisher may be nil, in which case Coordinator behaves exactly
// like calling executor.Execute directly.
func NewCoordinator(executor *pipelines.Executor, publisher *events.Publisher) *Coordinator {
	return &Coordinator{Executor: executor, Publisher: publisher}
}

// Execute runs pipeline via the wrapped Executor, emitting the full
// workflow.started / step.* / provider.fallback / compensation.* /
// workflow.completed|failed sequence described in pkg/events's package doc.
// The tenantID string (empty for un-scoped executions) is threaded onto
// every emitted event so a subscriber filtering by tenant sees only its own
// traffic.
func (c *Coordinator) Execute(
	ctx context.Context,
	pipeline pipelines.PipelineDefinition,
	input map[string]any,
	tenantID *string,
	apiKeyOverrides, modelOverrides map[string]string,
	progressCallback pipelines.ProgressCallback,
) (pipelines.PipelineResult, error) {
	tenant := ""
	if tenantID != nil {
		tenant = *tenantID
	}

	// executionID is not known until NewPipelineContext runs inside
	// Executor.Execute, so the started event is emitted from the first
	// progress callback (which reports the ID before any step runs), or with
	// the result's ExecutionID once Execute returns if no progress was
	// reported; live progress narration happens via progressCallback below,
	// keyed by the same ID the result will report.
	var executionID string
	started := events.WorkflowStartedEvent{
		PipelineName:    pipeline.Name,
		PipelineVersion: pipeline.Version,
		Input:           input,
	}
	wrappedCallback := func(execID string, percent float64, message string) {
		if executionID == "" {
			executionID = execID
			c.Publisher.WorkflowStarted(ctx, execID, tenant, started)
		}
		c.Publisher.ProgressUpdated(ctx, execID, tenant, events.ProgressUpdatedEvent{
			PercentComplete: percent,
			Message:         message,
		})
		if progressCallback != nil {
			progressCallback(execID, percent, message)
		}
	}

	result, err := c.Executor.Execute(ctx, pipeline, input, tenantID, apiKeyOverrides, modelOverrides, wrappedCallback)
	if executionID == "" {
		executionID = result.ExecutionID
		c.Publisher.WorkflowStarted(ctx, executionID, tenant, started)
	}

	c.narrateSteps(ctx, pipeline, result, tenant)

	if result.CompensationPerformed {
		c.narrateCompensation(ctx, result, tenant)
	}

	if result.Success {
		c.Publisher.WorkflowCompleted(ctx, executionID, tenant, events.WorkflowCompletedEvent{
			CompletedSteps:  result.CompletedSteps,
			TotalDurationMs: result.TotalDurationMs,
			TotalCostUsd:    result.TotalCostUsd.String(),
		})
	} else {
		c.Publisher.WorkflowFailed(ctx, executionID, tenant, events.WorkflowFailedEvent{
			FailedStep:            result.FailedStep,
			Error:                 result.Error,
			CompensationPerformed: result.CompensationPerformed,
			CompensatedSteps:      result.CompensatedSteps,
		})
	}

	return result, err
}

// narrateSteps walks pipeline.Steps in declared order (StepResults is a map
// and carries no order of its own) emitting one started+terminal event pair
// per step that ran, plus a provider.fallback event for each failed provider
// the step moved past to another attempt.
func (c *Coordinator) narrateSteps(ctx context.Context, pipeline pipelines.PipelineDefinition, result pipelines.PipelineResult, tenant string) {
	checkpoints := make(map[string]bool, len(pipeline.ProgressCheckpoints))
	for _, name := range pipeline.ProgressCheckpoints {
		checkpoints[name] = true
	}
	totalWeight := pipeline.TotalProgressWeight()
	if totalWeight <= 0 {
		totalWeight = 1
	}
	completedWeight := 0.0

	for _, step := range pipeline.Steps {
		sr, ok := result.GetStepResult(step.Name)
		if !ok {
			continue
		}

		if sr.Status == pipelines.StepSkipped {
			c.Publisher.StepSkipped(ctx, result.ExecutionID, tenant, events.StepSkippedEvent{
				StepName: step.Name,
				Reason:   sr.SkippedReason,
			})
			continue
		}

		c.Publisher.StepStarted(ctx, result.ExecutionID, tenant, events.StepStartedEvent{
			StepName:   step.Name,
			Capability: string(step.Capability),
		})

		for i, failedProvider := range sr.FallbacksAttempted {
			next := sr.ProviderUsed
			if i+1 < len(sr.FallbacksAttempted) {
				next = sr.FallbacksAttempted[i+1]
			}
			if next == "" {
				continue
			}
			c.Publisher.ProviderFallback(ctx, result.ExecutionID, tenant, events.ProviderFallbackEvent{
				StepName:       step.Name,
				FailedProvider: failedProvider,
				NextProvider:   next,
				ErrorCode:      sr.ErrorCode,
				RemainingChain: len(sr.FallbacksAttempted) - i - 1,
			})
		}

		switch sr.Status {
		case pipelines.StepCompleted:
			if cost := sr.CostUsd(); cost.IsPositive() {
				c.Publisher.CostIncurred(ctx, result.ExecutionID, tenant, events.CostIncurredEvent{
					StepName: step.Name,
					Provider: sr.ProviderUsed,
					CostUsd:  cost.String(),
				})
			}
			c.Publisher.StepCompleted(ctx, result.ExecutionID, tenant, events.StepCompletedEvent{
				StepName:     step.Name,
				ProviderUsed: sr.ProviderUsed,
				Retries:      sr.Retries,
				DurationMs:   sr.DurationMs(),
				CostUsd:      sr.CostUsd().String(),
			})
			completedWeight += step.ProgressWeight
			if checkpoints[step.Name] {
				c.Publisher.CheckpointReached(ctx, result.ExecutionID, tenant, events.CheckpointReachedEvent{
					Checkpoint: step.Name,
					Percent:    completedWeight / totalWeight * 100,
				})
			}
		case pipelines.StepFailed:
			c.Publisher.StepFailed(ctx, result.ExecutionID, tenant, events.StepFailedEvent{
				StepName:  step.Name,
				ErrorCode: sr.ErrorCode,
				Error:     sr.Error,
				Required:  step.Required,
			})
		}
	}
}

// narrateCompensation emits the compensation.started/step/completed triple
// for a rolled-back execution. Executor only reports which steps it
// successfully compensated, not which ones it attempted and failed, so a
// compensated step is reported success=true and every other completed step
// is reported success=false — matching what PipelineResult can actually
// tell us.
func (c *Coordinator) narrateCompensation(ctx context.Context, result pipelines.PipelineResult, tenant string) {
	c.Publisher.CompensationStarted(ctx, result.ExecutionID, tenant, events.CompensationStartedEvent{
		FailedStep:  result.FailedStep,
		StepsToUndo: result.CompletedSteps,
	})

	compensated := make(map[string]bool, len(result.CompensatedSteps))
	for _, name := range result.CompensatedSteps {
		compensated[name] = true
	}

	var failedSteps []string
	for i := len(result.CompletedSteps) - 1; i >= 0; i-- {
		name := result.CompletedSteps[i]
		ok := compensated[name]
		if !ok {
			failedSteps = append(failedSteps, name)
		}
		c.Publisher.CompensationStep(ctx, result.ExecutionID, tenant, events.CompensationStepEvent{
			StepName: name,
			Success:  ok,
			Error:    compensationErrorFor(ok, name),
		})
	}

	c.Publisher.CompensationCompleted(ctx, result.ExecutionID, tenant, events.CompensationCompletedEvent{
		FullRollback:     len(failedSteps) == 0,
		CompensatedSteps: result.CompensatedSteps,
		FailedSteps:      failedSteps,
	})
}

func compensationErrorFor(ok bool, stepName string) string {
	if ok {
		return ""
	}
	return fmt.Sprintf("compensation for %s did not complete successfully", stepName)
}

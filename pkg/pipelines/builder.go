package pipelines

import (
	"fmt"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
)

// StepBuilder accumulates a PipelineStep's fields through fluent calls, then
// hands the finished step back to its owning PipelineBuilder via Done.
type StepBuilder struct {
	parent *PipelineBuilder
	step   PipelineStep
}

// Step starts building a named step, bound to capability.
func Step(name string, capability capabilities.Capability) *StepBuilder {
	return &StepBuilder{
		step: PipelineStep{
			Name:           name,
			Capability:     capability,
			RetryPolicy:    DefaultRetryPolicy(),
			FallbackConfig: DefaultFallbackConfig(),
			TimeoutSeconds: 30,
			ProgressWeight: 1.0,
		},
	}
}

func (b *StepBuilder) WithDescription(d string) *StepBuilder {
	b.step.Description = d
	return b
}

func (b *StepBuilder) PreferProviders(names ...string) *StepBuilder {
	b.step.ProviderPreference = names
	return b
}

func (b *StepBuilder) RequireQualityTier(t capabilities.QualityTier) *StepBuilder {
	b.step.RequiredQualityTier = &t
	return b
}

func (b *StepBuilder) WithOptions(opts map[string]any) *StepBuilder {
	b.step.Options = opts
	return b
}

func (b *StepBuilder) FromKey(key string) *StepBuilder {
	b.step.InputKey = key
	return b
}

func (b *StepBuilder) ToKey(key string) *StepBuilder {
	b.step.OutputKey = key
	return b
}

func (b *StepBuilder) TransformInput(f func(data map[string]any) (any, error)) *StepBuilder {
	b.step.InputTransform = f
	return b
}

func (b *StepBuilder) TransformOutput(f func(output any) (any, error)) *StepBuilder {
	b.step.OutputTransform = f
	return b
}

func (b *StepBuilder) When(cond Condition) *StepBuilder {
	b.step.Condition = &cond
	return b
}

func (b *StepBuilder) WhenFunc(f func(data map[string]any) bool) *StepBuilder {
	b.step.Condition = &Condition{Func: f}
	return b
}

func (b *StepBuilder) ContinueOnFailure() *StepBuilder {
	b.step.ContinueOnFailure = true
	return b
}

func (b *StepBuilder) Require() *StepBuilder {
	b.step.Required = true
	return b
}

func (b *StepBuilder) WithRetry(policy RetryPolicy) *StepBuilder {
	b.step.RetryPolicy = policy
	return b
}

func (b *StepBuilder) NoRetry() *StepBuilder {
	b.step.RetryPolicy = RetryPolicy{MaxAttempts: 1}
	return b
}

func (b *StepBuilder) WithFallback(cfg FallbackConfig) *StepBuilder {
	b.step.FallbackConfig = cfg
	return b
}

func (b *StepBuilder) NoFallback() *StepBuilder {
	b.step.FallbackConfig = FallbackConfig{Enabled: false}
	return b
}

func (b *StepBuilder) WithTimeout(seconds int) *StepBuilder {
	b.step.TimeoutSeconds = seconds
	return b
}

func (b *StepBuilder) WithCompensation(action CompensationAction) *StepBuilder {
	b.step.Compensation = &action
	return b
}

func (b *StepBuilder) WithProgressWeight(w float64) *StepBuilder {
	b.step.ProgressWeight = w
	return b
}

// Done finalizes this step and appends it to the parent builder, returning
// the parent so calls can keep chaining (Pipeline("x").Step(...).Done().Step(...)).
func (b *StepBuilder) Done() *PipelineBuilder {
	b.parent.def.Steps = append(b.parent.def.Steps, b.step)
	return b.parent
}

// PipelineBuilder assembles a PipelineDefinition through fluent calls.
type PipelineBuilder struct {
	def PipelineDefinition
}

// Pipeline starts building a named, versioned pipeline definition.
func Pipeline(name string) *PipelineBuilder {
	return &PipelineBuilder{
		def: PipelineDefinition{
			Name:                       name,
			Version:                    "1.0.0",
			TimeoutSeconds:             300,
			MaxConcurrentSteps:         1,
			FailFast:                   true,
			EnableCompensation:         true,
			CompensationTimeoutSeconds: 60,
		},
	}
}

func (b *PipelineBuilder) WithVersion(v string) *PipelineBuilder {
	b.def.Version = v
	return b
}

func (b *PipelineBuilder) WithDescription(d string) *PipelineBuilder {
	b.def.Description = d
	return b
}

func (b *PipelineBuilder) WithTags(tags ...string) *PipelineBuilder {
	b.def.Tags = tags
	return b
}

func (b *PipelineBuilder) WithTimeout(seconds int) *PipelineBuilder {
	b.def.TimeoutSeconds = seconds
	return b
}

func (b *PipelineBuilder) WithMaxConcurrentSteps(n int) *PipelineBuilder {
	b.def.MaxConcurrentSteps = n
	return b
}

func (b *PipelineBuilder) WithoutFailFast() *PipelineBuilder {
	b.def.FailFast = false
	return b
}

func (b *PipelineBuilder) WithoutCompensation() *PipelineBuilder {
	b.def.EnableCompensation = false
	return b
}

func (b *PipelineBuilder) WithCompensationTimeout(seconds int) *PipelineBuilder {
	b.def.CompensationTimeoutSeconds = seconds
	return b
}

func (b *PipelineBuilder) WithProgressCheckpoints(names ...string) *PipelineBuilder {
	b.def.ProgressCheckpoints = names
	return b
}

// Step starts building a step owned by this pipeline.
func (b *PipelineBuilder) Step(name string, capability capabilities.Capability) *StepBuilder {
	sb := Step(name, capability)
	sb.parent = b
	return sb
}

// AddStep appends an already-built step directly, for callers assembling
// steps programmatically rather than through the fluent StepBuilder.
func (b *PipelineBuilder) AddStep(step PipelineStep) *PipelineBuilder {
	b.def.Steps = append(b.def.Steps, step)
	return b
}

// Build validates and returns the finished definition. Validation mirrors the
// source's __post_init__ checks: non-empty name/steps, unique step names,
// a capability on every step, and every compensation-bearing step requiring
// EnableCompensation at the pipeline level.
func (b *PipelineBuilder) Build() (PipelineDefinition, error) {
	def := b.def
	if def.Name == "" {
		return PipelineDefinition{}, errEmptyName
	}
	if len(def.Steps) == 0 {
		return PipelineDefinition{}, errNoSteps
	}
	seen := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		if seen[s.Name] {
			return PipelineDefinition{}, &duplicateStepError{Name: s.Name}
		}
		seen[s.Name] = true
		if s.Capability == "" {
			return PipelineDefinition{}, fmt.Errorf("step %q has no capability", s.Name)
		}
		if s.Compensation != nil && !def.EnableCompensation {
			return PipelineDefinition{}, &compensationDisabledError{Step: s.Name}
		}
	}
	return def, nil
}

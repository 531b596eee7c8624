package capabilities

import "context"

// Adapter is the uniform interface over a concrete provider. Implementations
// live in package providers; Adapter is declared here (rather than there) so
// the registry can hold and invoke adapters without providers importing
// capabilities' registry and creating a cycle.
//
// Execute must never panic or return a Go error for an operation failure —
// failures are communicated through OperationResult.Success/Error/ErrorCode.
type Adapter interface {
	Execute(ctx context.Context, capability Capability, input any, options map[string]any) OperationResult
	HealthCheck(ctx context.Context) bool
	Registration() ProviderRegistration
}

// AdapterFactory lazily constructs an Adapter for a provider, parameterized by
// a per-call API key and model override so a single registration can serve
// many tenants' credentials without the registry holding secrets.
type AdapterFactory func(apiKey, modelName string) (Adapter, error)

package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
)

// Breaker wraps one provider's Adapter with a circuit breaker so a run of
// failures trips the circuit and surfaces SERVICE_UNAVAILABLE
// OperationResults instead of hammering a downed vendor, per SPEC_FULL.md
// §4.2's resilience wrapping.
type Breaker struct {
	name    string
	inner   capabilities.Adapter
	breaker *gobreaker.CircuitBreaker[capabilities.OperationResult]
}

// NewBreaker wraps inner (identified as providerName in logs and state-change
// callbacks) with gobreaker defaults tuned for bursty AI vendor outages: trip
// after 5 consecutive failures within a 60s window, stay open 30s before
// probing again.
func NewBreaker(providerName string, inner capabilities.Adapter, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{
		name:    providerName,
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[capabilities.OperationResult](settings),
	}
}

// Execute runs the wrapped adapter through the circuit breaker. A tripped
// circuit never reaches the adapter at all — it returns a synthesized
// SERVICE_UNAVAILABLE result directly.
func (b *Breaker) Execute(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	result, err := b.breaker.Execute(func() (capabilities.OperationResult, error) {
		r := b.inner.Execute(ctx, capability, input, options)
		if !r.Success {
			// Count the failure against the circuit; r still reaches the caller.
			return r, errors.New(r.Error)
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errorResult(b.name, capability, err.Error(), ErrCodeServiceUnavailable, true)
	}
	return result
}

func (b *Breaker) HealthCheck(ctx context.Context) bool {
	return b.inner.HealthCheck(ctx)
}

func (b *Breaker) Registration() capabilities.ProviderRegistration {
	return b.inner.Registration()
}

// State reports the breaker's current state, for health/diagnostics endpoints.
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

var _ capabilities.Adapter = (*Breaker)(nil)

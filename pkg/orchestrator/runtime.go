// Package orchestrator assembles the capability registry, saga coordinator,
// budget service, and observability wrappers into the single entrypoint the
// rest of the system drives workflow executions through. Grounded on
// original_source's infra/ai/instrumented_orchestrator.py, whose
// InstrumentedOrchestrator plays the identical role around the Python saga
// coordinator.
package orchestrator

import (
	"log/slog"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/budget"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/events"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/observability"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/pipelines"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/saga"
)

// Runtime bundles the services one Orchestrator needs. It replaces the
// source's module-level singleton (_orchestrator / get_instrumented_orchestrator)
// with an explicit value callers construct once and pass around, per
// SPEC_FULL.md §2's no-package-level-globals rule.
type Runtime struct {
	EventStore *events.InMemoryStore
	Publisher  *events.Publisher
	Budget     *budget.Service
	Tracer     *observability.Tracer
	Metrics    *observability.Metrics
	Logger     *observability.Logger
}

// RuntimeOption configures a Runtime at construction.
type RuntimeOption func(*Runtime)

// NewRuntime builds a Runtime with sane zero-config defaults: an in-memory
// event store, a ListStore-backed budget service with no tenant limits
// configured (every tenant is allowed until SetBudget gives it limits), and
// no-op tracer/metrics so the Orchestrator never needs to nil-check them.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	eventStore := events.NewInMemoryStore(nil)
	r := &Runtime{
		EventStore: eventStore,
		Publisher:  events.NewPublisher(eventStore),
		Tracer:     observability.NewNoopTracer(),
		Metrics:    observability.NewNoopMetrics(),
		Logger:     observability.NewLogger(nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Budget == nil {
		r.Budget = budget.NewService(budget.NewListStore(), budget.WithMetrics(r.Metrics))
	}
	return r
}

func WithEventStore(store *events.InMemoryStore) RuntimeOption {
	return func(r *Runtime) {
		r.EventStore = store
		r.Publisher = events.NewPublisher(store)
	}
}

func WithBudgetService(svc *budget.Service) RuntimeOption {
	return func(r *Runtime) { r.Budget = svc }
}

func WithTracer(t *observability.Tracer) RuntimeOption {
	return func(r *Runtime) { r.Tracer = t }
}

func WithMetrics(m *observability.Metrics) RuntimeOption {
	return func(r *Runtime) { r.Metrics = m }
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.Logger = observability.NewLogger(l) }
}

// NewSagaCoordinator wires a fresh saga.Coordinator around executor, emitting
// onto this Runtime's event store. Callers build one Executor per capability
// registry and share it across Orchestrators for that registry.
func (r *Runtime) NewSagaCoordinator(executor *pipelines.Executor) *saga.Coordinator {
	return saga.NewCoordinator(executor, r.Publisher)
}

package budget

import "errors"

// ErrBudgetNotConfigured is returned by a Store's GetConfig when a tenant
// has no saved configuration. BudgetService treats this as "use defaults,"
// never propagating it to callers.
var ErrBudgetNotConfigured = errors.New("budget: tenant not configured")

// ErrExceeded is the error CheckBudget's caller (pkg/orchestrator) wraps
// around a blocking CheckResult and raises before doing any work.
type ErrExceeded struct {
	Result CheckResult
}

func (e *ErrExceeded) Error() string {
	return "budget exceeded: " + e.Result.Message
}

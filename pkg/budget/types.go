// Package budget tracks and enforces per-tenant AI spend: configured
// daily/weekly/monthly limits, a pre-execution check the orchestrator calls
// before running a pipeline, and post-execution spend recording. Grounded on
// original_source's infra/ai/observability/budget.py.
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period identifies a rolling accounting window a limit is measured against.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Policy governs what CheckBudget does once a period's projected spend
// exceeds its limit.
type Policy string

const (
	PolicyWarn      Policy = "warn"       // log/report but allow
	PolicySoftBlock Policy = "soft_block" // block new requests
	PolicyHardBlock Policy = "hard_block" // block unconditionally
)

// Action is the outcome CheckBudget attaches to a CheckResult.
type Action string

const (
	ActionAllowed Action = "allowed"
	ActionWarned  Action = "warned"
	ActionBlocked Action = "blocked"
)

// Config is one tenant's budget configuration. A nil limit means that
// period is unbounded.
type Config struct {
	TenantID             string
	DailyLimitUsd        *decimal.Decimal
	WeeklyLimitUsd       *decimal.Decimal
	MonthlyLimitUsd      *decimal.Decimal
	WarnThresholdPercent float64
	Policy               Policy
	Enabled              bool
}

// GetLimit returns the configured limit for period, or nil if that period
// has no limit set.
func (c Config) GetLimit(period Period) *decimal.Decimal {
	switch period {
	case PeriodDaily:
		return c.DailyLimitUsd
	case PeriodWeekly:
		return c.WeeklyLimitUsd
	case PeriodMonthly:
		return c.MonthlyLimitUsd
	default:
		return nil
	}
}

// DefaultWarnThresholdPercent matches the source's 80.0 default.
const DefaultWarnThresholdPercent = 80.0

// CheckResult is the outcome of a budget pre-flight check.
type CheckResult struct {
	Allowed         bool
	Action          Action
	CurrentSpendUsd decimal.Decimal
	LimitUsd        *decimal.Decimal
	PercentUsed     float64
	Period          Period
	Message         string
	ExceededPeriods []Period
}

// RemainingUsd returns LimitUsd - CurrentSpendUsd, floored at zero, or nil
// when the period is unbounded.
func (r CheckResult) RemainingUsd() *decimal.Decimal {
	if r.LimitUsd == nil {
		return nil
	}
	remaining := r.LimitUsd.Sub(r.CurrentSpendUsd)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return &remaining
}

// SpendRecord is one recorded cost event for a tenant.
type SpendRecord struct {
	TenantID    string
	CostUsd     decimal.Decimal
	PipelineName string
	ExecutionID string
	Provider    string
	Capability  string
	Timestamp   time.Time
	Metadata    map[string]any
}

// Summary is the aggregated view returned by BudgetService.GetSpendSummary.
type Summary struct {
	TenantID      string
	Period        Period
	Since         time.Time
	Until         time.Time
	TotalSpendUsd decimal.Decimal
	LimitUsd      *decimal.Decimal
	RemainingUsd  *decimal.Decimal
	PercentUsed   *float64
	RecordCount   int
	ByPipeline    map[string]decimal.Decimal
	ByProvider    map[string]decimal.Decimal
	ByCapability  map[string]decimal.Decimal
}

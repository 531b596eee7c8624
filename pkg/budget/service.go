package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metrics is the subset of pkg/observability.Metrics the budget service
// drives; declared locally so this package never imports pkg/observability
// (avoiding an import cycle, since observability has no reason to know
// about budget types).
type Metrics interface {
	BudgetExceeded(ctx context.Context, tenantID string, action string)
}

// Service tracks and enforces per-tenant spend. Grounded on the source's
// BudgetService: identical worst-result aggregation across DAILY/WEEKLY/
// MONTHLY windows, identical period-truncation rules.
type Service struct {
	Store                Store
	DefaultDailyLimitUsd *decimal.Decimal
	DefaultMonthlyLimit  *decimal.Decimal
	Metrics              Metrics
	Logger               *slog.Logger
}

// NewService builds a Service backed by store, or a fresh ListStore when
// store is nil.
func NewService(store Store, opts ...ServiceOption) *Service {
	if store == nil {
		store = NewListStore()
	}
	s := &Service{Store: store, Logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServiceOption configures a Service at construction.
type ServiceOption func(*Service)

func WithDefaultDailyLimit(limit decimal.Decimal) ServiceOption {
	return func(s *Service) { s.DefaultDailyLimitUsd = &limit }
}

func WithDefaultMonthlyLimit(limit decimal.Decimal) ServiceOption {
	return func(s *Service) { s.DefaultMonthlyLimit = &limit }
}

func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) { s.Metrics = m }
}

// SetBudget upserts tenantID's configuration.
func (s *Service) SetBudget(ctx context.Context, tenantID string, daily, weekly, monthly *decimal.Decimal, warnThresholdPercent float64, policy Policy, enabled bool) (Config, error) {
	if warnThresholdPercent <= 0 {
		warnThresholdPercent = DefaultWarnThresholdPercent
	}
	if policy == "" {
		policy = PolicyWarn
	}
	cfg := Config{
		TenantID:             tenantID,
		DailyLimitUsd:        daily,
		WeeklyLimitUsd:       weekly,
		MonthlyLimitUsd:      monthly,
		WarnThresholdPercent: warnThresholdPercent,
		Policy:               policy,
		Enabled:              enabled,
	}
	if err := s.Store.SetConfig(ctx, cfg); err != nil {
		return Config{}, err
	}
	s.logger().Info("budget configured",
		"tenant_id", tenantID, "daily_limit", usdString(daily), "monthly_limit", usdString(monthly), "policy", string(policy))
	return cfg, nil
}

// CheckBudget scans DAILY, WEEKLY, MONTHLY and returns the worst outcome: a
// BLOCKED result always wins; among non-blocking results, the first WARNED
// result found (exceeded-under-WARN-policy, or near the warn threshold)
// wins over ALLOWED. Mirrors the source's check_budget exactly, including
// its "only the first near-threshold period sets the warning" quirk.
func (s *Service) CheckBudget(ctx context.Context, tenantID string, estimatedCostUsd *decimal.Decimal) (CheckResult, error) {
	cfg, err := s.Store.GetConfig(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, ErrBudgetNotConfigured) {
			return CheckResult{}, err
		}
		cfg = Config{
			TenantID:        tenantID,
			DailyLimitUsd:   s.DefaultDailyLimitUsd,
			MonthlyLimitUsd: s.DefaultMonthlyLimit,
			Enabled:         true,
		}
	}

	if !cfg.Enabled {
		return CheckResult{
			Allowed:      true,
			Action:       ActionAllowed,
			Period:       PeriodDaily,
			Message:      "Budget enforcement disabled",
		}, nil
	}

	var worst *CheckResult
	var exceededPeriods []Period

	for _, period := range []Period{PeriodDaily, PeriodWeekly, PeriodMonthly} {
		limit := cfg.GetLimit(period)
		if limit == nil {
			continue
		}

		since := periodStart(period, time.Now().UTC())
		currentSpend, err := s.Store.GetSpend(ctx, tenantID, since, time.Now().UTC())
		if err != nil {
			return CheckResult{}, err
		}

		projected := currentSpend
		if estimatedCostUsd != nil {
			projected = projected.Add(*estimatedCostUsd)
		}

		percentUsed := 0.0
		if limit.IsPositive() {
			p, _ := projected.Div(*limit).Mul(decimal.NewFromInt(100)).Float64()
			percentUsed = p
		}

		if projected.GreaterThan(*limit) {
			exceededPeriods = append(exceededPeriods, period)
			allowed := cfg.Policy == PolicyWarn
			action := ActionBlocked
			if allowed {
				action = ActionWarned
			}
			result := CheckResult{
				Allowed:         allowed,
				Action:          action,
				CurrentSpendUsd: currentSpend,
				LimitUsd:        limit,
				PercentUsed:     percentUsed,
				Period:          period,
				Message:         fmt.Sprintf("%s budget exceeded: $%s / $%s", capitalize(string(period)), projected.StringFixed(4), limit.StringFixed(2)),
				ExceededPeriods: append([]Period{}, exceededPeriods...),
			}
			if worst == nil || !result.Allowed {
				worst = &result
			}
			continue
		}

		if percentUsed >= cfg.WarnThresholdPercent {
			result := CheckResult{
				Allowed:         true,
				Action:          ActionWarned,
				CurrentSpendUsd: currentSpend,
				LimitUsd:        limit,
				PercentUsed:     percentUsed,
				Period:          period,
				Message:         fmt.Sprintf("%s budget at %.1f%%", capitalize(string(period)), percentUsed),
			}
			if worst == nil {
				worst = &result
			}
		}
	}

	if worst == nil {
		since := periodStart(PeriodDaily, time.Now().UTC())
		dailySpend, err := s.Store.GetSpend(ctx, tenantID, since, time.Now().UTC())
		if err != nil {
			return CheckResult{}, err
		}
		dailyLimit := cfg.DailyLimitUsd
		if dailyLimit == nil {
			dailyLimit = s.DefaultDailyLimitUsd
		}
		percentUsed := 0.0
		if dailyLimit != nil && dailyLimit.IsPositive() {
			p, _ := dailySpend.Div(*dailyLimit).Mul(decimal.NewFromInt(100)).Float64()
			percentUsed = p
		}
		return CheckResult{
			Allowed:         true,
			Action:          ActionAllowed,
			CurrentSpendUsd: dailySpend,
			LimitUsd:        dailyLimit,
			PercentUsed:     percentUsed,
			Period:          PeriodDaily,
			Message:         "Within budget",
		}, nil
	}

	if s.Metrics != nil && !worst.Allowed {
		s.Metrics.BudgetExceeded(ctx, tenantID, string(worst.Action))
	}

	return *worst, nil
}

// TrackSpend appends a SpendRecord for tenantID.
func (s *Service) TrackSpend(ctx context.Context, tenantID string, costUsd decimal.Decimal, pipelineName, executionID, provider, capability string, metadata map[string]any) (SpendRecord, error) {
	record := SpendRecord{
		TenantID:     tenantID,
		CostUsd:      costUsd,
		PipelineName: pipelineName,
		ExecutionID:  executionID,
		Provider:     provider,
		Capability:   capability,
		Timestamp:    time.Now().UTC(),
		Metadata:     metadata,
	}
	if err := s.Store.AddSpend(ctx, record); err != nil {
		return SpendRecord{}, err
	}
	s.logger().Debug("spend tracked",
		"tenant_id", tenantID, "cost_usd", costUsd.String(), "pipeline", pipelineName, "provider", provider)
	return record, nil
}

// GetSpendSummary aggregates spend for tenantID over period, broken down by
// pipeline, provider, and capability.
func (s *Service) GetSpendSummary(ctx context.Context, tenantID string, period Period) (Summary, error) {
	cfg, err := s.Store.GetConfig(ctx, tenantID)
	if err != nil && !errors.Is(err, ErrBudgetNotConfigured) {
		return Summary{}, err
	}

	since := periodStart(period, time.Now().UTC())
	until := time.Now().UTC()

	total, err := s.Store.GetSpend(ctx, tenantID, since, until)
	if err != nil {
		return Summary{}, err
	}
	records, err := s.Store.GetSpendRecords(ctx, tenantID, since, until, 0)
	if err != nil {
		return Summary{}, err
	}

	byPipeline := make(map[string]decimal.Decimal)
	byProvider := make(map[string]decimal.Decimal)
	byCapability := make(map[string]decimal.Decimal)
	for _, r := range records {
		if r.PipelineName != "" {
			byPipeline[r.PipelineName] = byPipeline[r.PipelineName].Add(r.CostUsd)
		}
		if r.Provider != "" {
			byProvider[r.Provider] = byProvider[r.Provider].Add(r.CostUsd)
		}
		if r.Capability != "" {
			byCapability[r.Capability] = byCapability[r.Capability].Add(r.CostUsd)
		}
	}

	limit := cfg.GetLimit(period)
	var remaining *decimal.Decimal
	var percentUsed *float64
	if limit != nil {
		rem := limit.Sub(total)
		remaining = &rem
		if limit.IsPositive() {
			p, _ := total.Div(*limit).Mul(decimal.NewFromInt(100)).Float64()
			percentUsed = &p
		}
	}

	return Summary{
		TenantID:      tenantID,
		Period:        period,
		Since:         since,
		Until:         until,
		TotalSpendUsd: total,
		LimitUsd:      limit,
		RemainingUsd:  remaining,
		PercentUsed:   percentUsed,
		RecordCount:   len(records),
		ByPipeline:    byPipeline,
		ByProvider:    byProvider,
		ByCapability:  byCapability,
	}, nil
}

// periodStart truncates now to the start of period, matching the source's
// datetime.replace-based truncation (UTC, Monday-start weeks).
func periodStart(period Period, now time.Time) time.Time {
	switch period {
	case PeriodHourly:
		return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case PeriodWeekly:
		daysSinceMonday := (int(now.Weekday()) + 6) % 7
		start := now.AddDate(0, 0, -daysSinceMonday)
		return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, now.Location())
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return now
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func usdString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

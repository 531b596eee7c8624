package budget

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func moneyPtr(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

func TestService_WithinBudgetAllowsByDefault(t *testing.T) {
	svc := NewService(NewListStore())
	result, err := svc.CheckBudget(context.Background(), "tenant-a", nil)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, ActionAllowed, result.Action)
}

func TestService_WarnPolicyExceededStillAllows(t *testing.T) {
	svc := NewService(NewListStore())
	_, err := svc.SetBudget(context.Background(), "tenant-a", moneyPtr("1.00"), nil, nil, 80, PolicyWarn, true)
	require.NoError(t, err)

	_, err = svc.TrackSpend(context.Background(), "tenant-a", money("0.95"), "p", "e1", "openai", "transcribe", nil)
	require.NoError(t, err)

	result, err := svc.CheckBudget(context.Background(), "tenant-a", moneyPtr("0.10"))
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, ActionWarned, result.Action)
	assert.Equal(t, PeriodDaily, result.Period)
}

func TestService_HardBlockPreFlightBlocksBeforeAnyWork(t *testing.T) {
	svc := NewService(NewListStore())
	_, err := svc.SetBudget(context.Background(), "tenant-a", moneyPtr("1.00"), nil, nil, 80, PolicyHardBlock, true)
	require.NoError(t, err)

	_, err = svc.TrackSpend(context.Background(), "tenant-a", money("0.95"), "", "", "", "", nil)
	require.NoError(t, err)

	result, err := svc.CheckBudget(context.Background(), "tenant-a", moneyPtr("0.10"))
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ActionBlocked, result.Action)
	assert.Equal(t, PeriodDaily, result.Period)
}

func TestService_BlockedAlwaysWinsOverWarnedAcrossPeriods(t *testing.T) {
	svc := NewService(NewListStore())
	// Daily: 2.00 of 2.40 is 83% (warned); monthly: 2.00 over 1.00 (blocked).
	_, err := svc.SetBudget(context.Background(), "tenant-a", moneyPtr("2.40"), nil, moneyPtr("1.00"), 80, PolicySoftBlock, true)
	require.NoError(t, err)

	_, err = svc.TrackSpend(context.Background(), "tenant-a", money("2.00"), "", "", "", "", nil)
	require.NoError(t, err)

	result, err := svc.CheckBudget(context.Background(), "tenant-a", nil)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ActionBlocked, result.Action)
}

func TestService_DisabledConfigBypassesEnforcement(t *testing.T) {
	svc := NewService(NewListStore())
	_, err := svc.SetBudget(context.Background(), "tenant-a", moneyPtr("0.01"), nil, nil, 80, PolicyHardBlock, false)
	require.NoError(t, err)

	result, err := svc.CheckBudget(context.Background(), "tenant-a", moneyPtr("100"))
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, ActionAllowed, result.Action)
}

func TestService_SpendSummaryBreaksDownByDimension(t *testing.T) {
	svc := NewService(NewListStore())
	ctx := context.Background()

	_, err := svc.TrackSpend(ctx, "tenant-a", money("0.10"), "call_analysis", "e1", "openai", "transcribe", nil)
	require.NoError(t, err)
	_, err = svc.TrackSpend(ctx, "tenant-a", money("0.20"), "call_analysis", "e2", "anthropic", "llm_generation", nil)
	require.NoError(t, err)
	_, err = svc.TrackSpend(ctx, "tenant-b", money("5.00"), "other", "e3", "openai", "transcribe", nil)
	require.NoError(t, err)

	summary, err := svc.GetSpendSummary(ctx, "tenant-a", PeriodDaily)
	require.NoError(t, err)
	assert.True(t, summary.TotalSpendUsd.Equal(money("0.30")))
	assert.Equal(t, 2, summary.RecordCount)
	assert.True(t, summary.ByPipeline["call_analysis"].Equal(money("0.30")))
	assert.True(t, summary.ByProvider["openai"].Equal(money("0.10")))
	assert.True(t, summary.ByProvider["anthropic"].Equal(money("0.20")))
}

func TestPeriodStart_WeeklyTruncatesToMonday(t *testing.T) {
	// 2026-08-01 is a Saturday.
	now := mustParse("2026-08-01T15:30:00Z")
	start := periodStart(PeriodWeekly, now)
	assert.Equal(t, "2026-07-27", start.Format("2006-01-02")) // preceding Monday
}

func mustParse(s string) (t time.Time) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

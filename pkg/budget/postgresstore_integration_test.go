//go:build integration

package budget

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestPostgresStore spins up a disposable postgres container, applies
// pkg/budget's own embedded migrations through NewPostgresStore, and
// registers cleanup. Grounded on test/database's NewTestClient from the
// donor, scaled down since budget owns its schema outright instead of
// sharing one generated by Ent.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("budget_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewPostgresStoreFromDSN(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestPostgresStore_ConfigRoundTrip(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	daily := decimal.NewFromFloat(50.0)
	cfg := Config{
		TenantID:             "acme",
		DailyLimitUsd:        &daily,
		WarnThresholdPercent: 80,
		Policy:               PolicyHardBlock,
		Enabled:              true,
	}
	require.NoError(t, store.SetConfig(ctx, cfg))

	got, err := store.GetConfig(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, "acme", got.TenantID)
	require.True(t, got.DailyLimitUsd.Equal(daily))
	require.Equal(t, PolicyHardBlock, got.Policy)
	require.True(t, got.Enabled)

	_, err = store.GetConfig(ctx, "nope")
	require.ErrorIs(t, err, ErrBudgetNotConfigured)
}

func TestPostgresStore_SpendAccumulatesWithinWindow(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.AddSpend(ctx, SpendRecord{
		TenantID:  "acme",
		CostUsd:   decimal.NewFromFloat(1.25),
		Provider:  "openai",
		Timestamp: now,
	}))
	require.NoError(t, store.AddSpend(ctx, SpendRecord{
		TenantID:  "acme",
		CostUsd:   decimal.NewFromFloat(2.75),
		Provider:  "anthropic",
		Timestamp: now.Add(time.Minute),
	}))
	require.NoError(t, store.AddSpend(ctx, SpendRecord{
		TenantID:  "other-tenant",
		CostUsd:   decimal.NewFromFloat(99),
		Timestamp: now,
	}))

	total, err := store.GetSpend(ctx, "acme", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromFloat(4.0)), "got %s", total)

	records, err := store.GetSpendRecords(ctx, "acme", now.Add(-time.Hour), now.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

// TestPostgresStore_SatisfiesServiceContract exercises PostgresStore through
// Service.CheckBudget/TrackSpend exactly as ListStore is exercised in
// service_test.go, confirming the two Store implementations are
// interchangeable behind Service.
func TestPostgresStore_SatisfiesServiceContract(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	daily := decimal.NewFromFloat(10.0)
	require.NoError(t, store.SetConfig(ctx, Config{
		TenantID:      "acme",
		DailyLimitUsd: &daily,
		Policy:        PolicySoftBlock,
		Enabled:       true,
	}))

	svc := NewService(store)

	estimate := decimal.NewFromFloat(4.0)
	result, err := svc.CheckBudget(ctx, "acme", &estimate)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	_, err = svc.TrackSpend(ctx, "acme", decimal.NewFromFloat(8.0), "call_analysis", "exec-1", "openai", "", nil)
	require.NoError(t, err)

	result, err = svc.CheckBudget(ctx, "acme", &estimate)
	require.NoError(t, err)
	require.False(t, result.Allowed, "projected spend should exceed the $10 daily limit")
}

package budget

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// yamlTenantConfig is the on-disk shape of one tenant entry in a budget seed
// file. Limits are plain strings ("10.00") rather than floats to avoid
// binary float round-tripping into decimal.Decimal.
type yamlTenantConfig struct {
	TenantID             string `yaml:"tenant_id"`
	DailyLimitUsd        string `yaml:"daily_limit_usd"`
	WeeklyLimitUsd       string `yaml:"weekly_limit_usd"`
	MonthlyLimitUsd      string `yaml:"monthly_limit_usd"`
	WarnThresholdPercent float64 `yaml:"warn_threshold_percent"`
	Policy               string `yaml:"policy"`
	Enabled              *bool  `yaml:"enabled"`
}

type yamlBudgetFile struct {
	Tenants []yamlTenantConfig `yaml:"tenants"`
}

// LoadConfigsYAML reads a tenant budget seed file (the Go port's answer to
// the donor's env/flag-only startup config, since budget needs one entry
// per tenant rather than a single flat value) and upserts each entry into
// store. Used by cmd/orchestrator at startup; an absent path is not an
// error, to keep the zero-config path working.
func LoadConfigsYAML(ctx context.Context, store Store, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("budget: reading config file %s: %w", path, err)
	}

	var file yamlBudgetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("budget: parsing config file %s: %w", path, err)
	}

	for _, t := range file.Tenants {
		cfg, err := t.toConfig()
		if err != nil {
			return 0, fmt.Errorf("budget: tenant %q: %w", t.TenantID, err)
		}
		if err := store.SetConfig(ctx, cfg); err != nil {
			return 0, fmt.Errorf("budget: storing config for tenant %q: %w", t.TenantID, err)
		}
	}
	return len(file.Tenants), nil
}

func (t yamlTenantConfig) toConfig() (Config, error) {
	if t.TenantID == "" {
		return Config{}, fmt.Errorf("tenant_id is required")
	}

	daily, err := parseOptionalDecimal(t.DailyLimitUsd)
	if err != nil {
		return Config{}, fmt.Errorf("daily_limit_usd: %w", err)
	}
	weekly, err := parseOptionalDecimal(t.WeeklyLimitUsd)
	if err != nil {
		return Config{}, fmt.Errorf("weekly_limit_usd: %w", err)
	}
	monthly, err := parseOptionalDecimal(t.MonthlyLimitUsd)
	if err != nil {
		return Config{}, fmt.Errorf("monthly_limit_usd: %w", err)
	}

	policy := Policy(t.Policy)
	if policy == "" {
		policy = PolicyWarn
	}
	warnThreshold := t.WarnThresholdPercent
	if warnThreshold <= 0 {
		warnThreshold = DefaultWarnThresholdPercent
	}
	enabled := true
	if t.Enabled != nil {
		enabled = *t.Enabled
	}

	return Config{
		TenantID:             t.TenantID,
		DailyLimitUsd:        daily,
		WeeklyLimitUsd:       weekly,
		MonthlyLimitUsd:      monthly,
		WarnThresholdPercent: warnThreshold,
		Policy:               policy,
		Enabled:              enabled,
	}, nil
}

func parseOptionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

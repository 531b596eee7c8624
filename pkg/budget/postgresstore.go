package budget

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore is the durable Store implementation spec.md §4.6 anticipates
// production deployments substituting in behind the same interface as
// ListStore. Grounded on pkg/database's pgx + golang-migrate wiring, scaled
// down to plain database/sql since budget has no Ent schema of its own.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig mirrors pkg/database.Config's shape for the subset budget
// needs.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c PostgresConfig) dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// NewPostgresStore opens a pool against cfg and applies any pending
// migrations from the embedded pkg/budget/migrations directory.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("budget: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("budget: pinging database: %w", err)
	}
	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("budget: running migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDSN is NewPostgresStore for callers holding a
// ready-made connection string rather than discrete PostgresConfig fields,
// e.g. a testcontainers-issued URL. pgx accepts both DSN and URL forms
// through the same driver, so no translation is needed.
func NewPostgresStoreFromDSN(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("budget: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("budget: pinging database: %w", err)
	}
	if err := runMigrations(db, "budget"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("budget: running migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open *sql.DB, for callers that
// share an existing connection pool. It does not run migrations.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, databaseName, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return source.Close()
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) SetConfig(ctx context.Context, config Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_configs (tenant_id, daily_limit_usd, weekly_limit_usd, monthly_limit_usd, warn_threshold_percent, policy, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE SET
			daily_limit_usd = EXCLUDED.daily_limit_usd,
			weekly_limit_usd = EXCLUDED.weekly_limit_usd,
			monthly_limit_usd = EXCLUDED.monthly_limit_usd,
			warn_threshold_percent = EXCLUDED.warn_threshold_percent,
			policy = EXCLUDED.policy,
			enabled = EXCLUDED.enabled
	`, config.TenantID, decimalPtrString(config.DailyLimitUsd), decimalPtrString(config.WeeklyLimitUsd),
		decimalPtrString(config.MonthlyLimitUsd), config.WarnThresholdPercent, string(config.Policy), config.Enabled)
	return err
}

func (s *PostgresStore) GetConfig(ctx context.Context, tenantID string) (Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, daily_limit_usd, weekly_limit_usd, monthly_limit_usd, warn_threshold_percent, policy, enabled
		FROM budget_configs WHERE tenant_id = $1
	`, tenantID)

	var (
		daily, weekly, monthly sql.NullString
		policy                 string
		cfg                    Config
	)
	if err := row.Scan(&cfg.TenantID, &daily, &weekly, &monthly, &cfg.WarnThresholdPercent, &policy, &cfg.Enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, ErrBudgetNotConfigured
		}
		return Config{}, err
	}
	cfg.Policy = Policy(policy)
	cfg.DailyLimitUsd, _ = nullStringToDecimal(daily)
	cfg.WeeklyLimitUsd, _ = nullStringToDecimal(weekly)
	cfg.MonthlyLimitUsd, _ = nullStringToDecimal(monthly)
	return cfg, nil
}

func (s *PostgresStore) AddSpend(ctx context.Context, record SpendRecord) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO budget_spend_records (tenant_id, cost_usd, pipeline_name, execution_id, provider, capability, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.TenantID, record.CostUsd.String(), nullableString(record.PipelineName), nullableString(record.ExecutionID),
		nullableString(record.Provider), nullableString(record.Capability), record.Timestamp, metadata)
	return err
}

func (s *PostgresStore) GetSpend(ctx context.Context, tenantID string, since, until time.Time) (decimal.Decimal, error) {
	var total sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd::numeric), 0)::text FROM budget_spend_records
		WHERE tenant_id = $1 AND occurred_at >= $2 AND occurred_at <= $3
	`, tenantID, since, until).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid || total.String == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(total.String)
}

func (s *PostgresStore) GetSpendRecords(ctx context.Context, tenantID string, since, until time.Time, limit int) ([]SpendRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, cost_usd, pipeline_name, execution_id, provider, capability, occurred_at, metadata
		FROM budget_spend_records
		WHERE tenant_id = $1 AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY occurred_at ASC
		LIMIT $4
	`, tenantID, since, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpendRecord
	for rows.Next() {
		var (
			r                                              SpendRecord
			cost                                           string
			pipelineName, executionID, provider, capability sql.NullString
			metadata                                       []byte
		)
		if err := rows.Scan(&r.TenantID, &cost, &pipelineName, &executionID, &provider, &capability, &r.Timestamp, &metadata); err != nil {
			return nil, err
		}
		r.CostUsd, err = decimal.NewFromString(cost)
		if err != nil {
			return nil, err
		}
		r.PipelineName = pipelineName.String
		r.ExecutionID = executionID.String
		r.Provider = provider.String
		r.Capability = capability.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CleanupOldRecords(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM budget_spend_records WHERE occurred_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func decimalPtrString(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullStringToDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)

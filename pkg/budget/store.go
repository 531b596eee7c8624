package budget

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists tenant budget configuration and spend records. ListStore
// is the zero-dependency default; PostgresStore is the durable
// implementation spec.md anticipates production deployments substituting in
// behind the same interface.
type Store interface {
	SetConfig(ctx context.Context, config Config) error
	GetConfig(ctx context.Context, tenantID string) (Config, error)
	AddSpend(ctx context.Context, record SpendRecord) error
	GetSpend(ctx context.Context, tenantID string, since, until time.Time) (decimal.Decimal, error)
	GetSpendRecords(ctx context.Context, tenantID string, since, until time.Time, limit int) ([]SpendRecord, error)
	CleanupOldRecords(ctx context.Context, olderThan time.Time) (int, error)
}

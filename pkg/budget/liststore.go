package budget

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ListStore is the in-process Store: an append-only slice of SpendRecord
// scanned linearly per query, guarded by a single mutex for both config
// mutation and spend append, grounded on the source's InMemoryBudgetStore
// and spec.md §5's "reads take the same lock for a consistent snapshot."
// Not suitable across replicas; use PostgresStore for that.
type ListStore struct {
	mu      sync.Mutex
	configs map[string]Config
	records []SpendRecord
}

// NewListStore returns an empty ListStore.
func NewListStore() *ListStore {
	return &ListStore{configs: make(map[string]Config)}
}

func (s *ListStore) SetConfig(ctx context.Context, config Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[config.TenantID] = config
	return nil
}

func (s *ListStore) GetConfig(ctx context.Context, tenantID string) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[tenantID]
	if !ok {
		return Config{}, ErrBudgetNotConfigured
	}
	return cfg, nil
}

func (s *ListStore) AddSpend(ctx context.Context, record SpendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *ListStore) GetSpend(ctx context.Context, tenantID string, since, until time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, r := range s.records {
		if r.TenantID == tenantID && !r.Timestamp.Before(since) && !r.Timestamp.After(until) {
			total = total.Add(r.CostUsd)
		}
	}
	return total, nil
}

func (s *ListStore) GetSpendRecords(ctx context.Context, tenantID string, since, until time.Time, limit int) ([]SpendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SpendRecord
	for _, r := range s.records {
		if r.TenantID == tenantID && !r.Timestamp.Before(since) && !r.Timestamp.After(until) {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *ListStore) CleanupOldRecords(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.records)
	kept := s.records[:0:0]
	for _, r := range s.records {
		if !r.Timestamp.Before(olderThan) {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return before - len(s.records), nil
}

var _ Store = (*ListStore)(nil)

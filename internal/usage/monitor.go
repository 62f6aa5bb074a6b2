package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gearbase/internal/domain"
	"gearbase/internal/registry"
	"gearbase/internal/storage"
	"gearbase/internal/store"
	"gearbase/internal/tenantdb"
)

// Counter counts rows in a tenant database. Split out so the monitor is
// testable without PostgreSQL.
type Counter interface {
	CountUsers(ctx context.Context, db *sql.DB) (int64, error)
	CountAccessories(ctx context.Context, db *sql.DB) (int64, error)
}

// PostgresCounter is the production Counter.
type PostgresCounter struct{}

var _ Counter = (*PostgresCounter)(nil)

func (PostgresCounter) CountUsers(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (PostgresCounter) CountAccessories(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accessories`).Scan(&n)
	return n, err
}

// APICallKey is the accounting counter key for a tenant's API calls in
// the billing period containing t. Periods are calendar months (UTC).
func APICallKey(tenantID string, t time.Time) string {
	return fmt.Sprintf("apicalls:%s:%s", tenantID, t.UTC().Format("2006-01"))
}

// Monitor computes per-tenant resource usage against configured limits.
// Each resource kind is computed independently: a failing accounting
// backend yields a snapshot marked unavailable instead of failing the
// whole call.
type Monitor struct {
	registry registry.Registry
	cache    *tenantdb.Cache
	storage  storage.Provider
	kv       store.KV
	counter  Counter
	logger   *zap.Logger
}

func NewMonitor(reg registry.Registry, cache *tenantdb.Cache, provider storage.Provider, kv store.KV, logger *zap.Logger) *Monitor {
	return &Monitor{
		registry: reg,
		cache:    cache,
		storage:  provider,
		kv:       kv,
		counter:  PostgresCounter{},
		logger:   logger,
	}
}

// WithCounter overrides the row counter (tests).
func (m *Monitor) WithCounter(c Counter) *Monitor {
	m.counter = c
	return m
}

// GetUsage returns one snapshot per tracked resource kind for the tenant.
func (m *Monitor) GetUsage(ctx context.Context, tenantID string) ([]domain.UsageSnapshot, error) {
	tenant, err := m.registry.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snapshots := make([]domain.UsageSnapshot, 0, 4)

	users, accessories, dbErr := m.countTenantRows(ctx, tenant)
	snapshots = append(snapshots,
		m.snapshot(tenant, domain.ResourceUsers, users, tenant.Limits.MaxUsers, dbErr, now),
		m.snapshot(tenant, domain.ResourceAccessories, accessories, tenant.Limits.MaxAccessories, dbErr, now),
	)

	bytes, storageErr := m.storage.NamespaceBytes(ctx, tenantID)
	snapshots = append(snapshots,
		m.snapshot(tenant, domain.ResourceStorage, bytes, tenant.Limits.StorageBytes, storageErr, now))

	calls, callsErr := m.kv.GetInt(ctx, APICallKey(tenantID, now))
	if errors.Is(callsErr, store.ErrMiss) {
		// no traffic yet this period
		calls, callsErr = 0, nil
	}
	snapshots = append(snapshots,
		m.snapshot(tenant, domain.ResourceAPICalls, calls, tenant.Limits.APICallsPerPeriod, callsErr, now))

	return snapshots, nil
}

func (m *Monitor) countTenantRows(ctx context.Context, tenant *domain.Tenant) (users, accessories int64, err error) {
	if tenant.ConnDescriptor == "" {
		return 0, 0, fmt.Errorf("tenant has no connection descriptor")
	}
	handle, err := m.cache.GetOrCreate(ctx, tenant.ID, tenant.ConnDescriptor)
	if err != nil {
		return 0, 0, err
	}
	defer handle.Release()

	users, err = m.counter.CountUsers(ctx, handle.DB())
	if err != nil {
		return 0, 0, err
	}
	accessories, err = m.counter.CountAccessories(ctx, handle.DB())
	if err != nil {
		return 0, 0, err
	}
	return users, accessories, nil
}

func (m *Monitor) snapshot(tenant *domain.Tenant, kind domain.ResourceKind, current, limit int64, err error, now time.Time) domain.UsageSnapshot {
	snap := domain.UsageSnapshot{
		TenantID:   tenant.ID,
		Kind:       kind,
		Limit:      limit,
		ComputedAt: now,
	}
	if err != nil {
		m.logger.Warn("resource accounting unavailable",
			zap.String("tenant_id", tenant.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		snap.Unavailable = true
		return snap
	}
	snap.Current = current
	if limit > 0 {
		snap.Percent = float64(current) * 100 / float64(limit)
	}
	return snap
}

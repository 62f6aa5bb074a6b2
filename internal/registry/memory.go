package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gearbase/internal/domain"
)

// MemoryRegistry is an in-memory Registry used in tests and for local
// development without a registry database. It enforces the same
// routing-key uniqueness rule as the partial unique index in Postgres.
type MemoryRegistry struct {
	mu         sync.RWMutex
	tenants    map[string]*domain.Tenant
	migrations map[string][]*domain.MigrationRecord
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tenants:    map[string]*domain.Tenant{},
		migrations: map[string][]*domain.MigrationRecord{},
	}
}

var _ Registry = (*MemoryRegistry)(nil)

func cloneTenant(t *domain.Tenant) *domain.Tenant {
	cp := *t
	if t.Features != nil {
		cp.Features = make(map[string]bool, len(t.Features))
		for k, v := range t.Features {
			cp.Features[k] = v
		}
	}
	if t.DecommissionedAt != nil {
		ts := *t.DecommissionedAt
		cp.DecommissionedAt = &ts
	}
	return &cp
}

func (r *MemoryRegistry) Create(ctx context.Context, tenant *domain.Tenant) error {
	if tenant == nil || tenant.ID == "" {
		return fmt.Errorf("tenant with tenant_id is required")
	}
	if tenant.RoutingKey == "" {
		return fmt.Errorf("routing_key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.tenants {
		if existing.Status != domain.StatusDeleted && existing.RoutingKey == tenant.RoutingKey {
			return domain.ErrRoutingKeyTaken
		}
	}
	if _, ok := r.tenants[tenant.ID]; ok {
		return fmt.Errorf("tenant %s already exists", tenant.ID)
	}

	cp := cloneTenant(tenant)
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.tenants[tenant.ID] = cp
	return nil
}

func (r *MemoryRegistry) GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[tenantID]
	if !ok || t.Status == domain.StatusDeleted {
		return nil, domain.ErrTenantNotFound
	}
	return cloneTenant(t), nil
}

func (r *MemoryRegistry) GetByRoutingKey(ctx context.Context, routingKey string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tenants {
		if t.Status != domain.StatusDeleted && t.RoutingKey == routingKey {
			return cloneTenant(t), nil
		}
	}
	return nil, domain.ErrTenantNotFound
}

func (r *MemoryRegistry) List(ctx context.Context, filter Filters, page, size int) ([]*domain.Tenant, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []*domain.Tenant{}
	for _, t := range r.tenants {
		if t.Status == domain.StatusDeleted {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, cloneTenant(t))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := len(matched)
	start := (page - 1) * size
	if start >= total {
		return []*domain.Tenant{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryRegistry) UpdateStatus(ctx context.Context, tenantID string, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[tenantID]
	if !ok || t.Status == domain.StatusDeleted {
		return domain.ErrTenantNotFound
	}
	if !domain.CanTransition(t.Status, status) {
		return fmt.Errorf("invalid status transition %s -> %s", t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	if status == domain.StatusDecommissioned {
		ts := time.Now()
		t.DecommissionedAt = &ts
	}
	return nil
}

func (r *MemoryRegistry) UpdateDescriptor(ctx context.Context, tenantID string, descriptor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[tenantID]
	if !ok || t.Status == domain.StatusDeleted {
		return domain.ErrTenantNotFound
	}
	t.ConnDescriptor = descriptor
	t.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRegistry) UpdateTierLimits(ctx context.Context, tenantID string, tier domain.Tier, limits domain.ResourceLimits) error {
	if !tier.IsValid() {
		return fmt.Errorf("invalid tier %q", tier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[tenantID]
	if !ok || t.Status == domain.StatusDeleted {
		return domain.ErrTenantNotFound
	}
	t.Tier = tier
	t.Limits = limits
	t.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[tenantID]; !ok {
		return domain.ErrTenantNotFound
	}
	delete(r.tenants, tenantID)
	return nil
}

func (r *MemoryRegistry) RecordMigration(ctx context.Context, rec *domain.MigrationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *rec
	r.migrations[rec.TenantID] = append([]*domain.MigrationRecord{&cp}, r.migrations[rec.TenantID]...)
	return nil
}

func (r *MemoryRegistry) ListMigrations(ctx context.Context, tenantID string) ([]*domain.MigrationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.MigrationRecord, 0, len(r.migrations[tenantID]))
	for _, rec := range r.migrations[tenantID] {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

package registry

import (
	"context"

	"gearbase/internal/domain"
)

// Registry is the master registry of tenants: the single shared source of
// truth for tenant identity, routing, status, and limits. Only the
// lifecycle manager mutates it; the resolver reads it.
type Registry interface {
	// Create inserts a new tenant record. The routing-key uniqueness check
	// and the insert are atomic (backed by a partial unique index over
	// non-deleted rows); a collision returns domain.ErrRoutingKeyTaken.
	Create(ctx context.Context, tenant *domain.Tenant) error

	// GetByID returns a tenant by ID. Soft-deleted tenants are not
	// returned.
	GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error)

	// GetByRoutingKey returns a tenant by routing key (subdomain).
	// Soft-deleted tenants are not returned.
	GetByRoutingKey(ctx context.Context, routingKey string) (*domain.Tenant, error)

	// List returns tenants matching the filter, with paging.
	List(ctx context.Context, filter Filters, page, size int) ([]*domain.Tenant, int, error)

	// UpdateStatus moves a tenant to a new lifecycle status. Invalid
	// transitions are rejected. Moving to decommissioned records the
	// decommission timestamp.
	UpdateStatus(ctx context.Context, tenantID string, status domain.Status) error

	// UpdateDescriptor sets the tenant's database connection descriptor.
	UpdateDescriptor(ctx context.Context, tenantID string, descriptor string) error

	// UpdateTierLimits updates subscription tier and resource limits in
	// one transaction.
	UpdateTierLimits(ctx context.Context, tenantID string, tier domain.Tier, limits domain.ResourceLimits) error

	// Delete removes the registry record entirely (purge path). For the
	// soft path use UpdateStatus with domain.StatusDeleted.
	Delete(ctx context.Context, tenantID string) error

	// RecordMigration persists the audit record of one migration attempt.
	RecordMigration(ctx context.Context, rec *domain.MigrationRecord) error

	// ListMigrations returns migration records for a tenant, newest first.
	ListMigrations(ctx context.Context, tenantID string) ([]*domain.MigrationRecord, error)
}

// Filters narrows a List call.
type Filters struct {
	Status domain.Status // optional, filter by status
	Search string        // optional, match against tenant name
}

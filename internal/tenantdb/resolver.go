package tenantdb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gearbase/internal/domain"
	"gearbase/internal/registry"
)

// TenantResolver maps an inbound tenant hint (subdomain routing key or
// explicit tenant ID) to a ready-to-use tenant database handle.
type TenantResolver interface {
	Resolve(ctx context.Context, hint string) (*Handle, error)
}

// Resolver consults the master registry and delegates to the connection
// cache. It is read-only with respect to the registry.
type Resolver struct {
	registry registry.Registry
	cache    *Cache
	timeout  time.Duration
	logger   *zap.Logger
}

func NewResolver(reg registry.Registry, cache *Cache, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Resolver{registry: reg, cache: cache, timeout: timeout, logger: logger}
}

var _ TenantResolver = (*Resolver)(nil)

// Resolve looks up the hint as a routing key first, then as a tenant ID
// when the hint is a UUID. Non-active tenants resolve to
// TenantUnavailableError; registry outages surface as a retryable
// RegistryError. The returned handle is borrowed and must be Released.
func (r *Resolver) Resolve(ctx context.Context, hint string) (*Handle, error) {
	if hint == "" {
		return nil, domain.ErrTenantNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tenant, err := r.registry.GetByRoutingKey(ctx, hint)
	if errors.Is(err, domain.ErrTenantNotFound) {
		if _, parseErr := uuid.Parse(hint); parseErr == nil {
			tenant, err = r.registry.GetByID(ctx, hint)
		}
	}
	if err != nil {
		return nil, err
	}

	if tenant.Status != domain.StatusActive {
		return nil, &domain.TenantUnavailableError{Status: tenant.Status}
	}

	h, err := r.cache.GetOrCreate(ctx, tenant.ID, tenant.ConnDescriptor)
	if err != nil {
		r.logger.Warn("tenant connection unavailable",
			zap.String("tenant_id", tenant.ID), zap.Error(err))
		return nil, err
	}
	return h, nil
}

package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gearbase/internal/store"
	"gearbase/internal/tenantdb"
	"gearbase/internal/usage"
)

type tenantCtxKey struct{}

// TenantFromContext returns the tenant connection handle injected by the
// middleware, or nil outside a tenant-scoped request. The handle is
// borrowed for the lifetime of the request; business handlers must not
// retain it.
func TenantFromContext(ctx context.Context) *tenantdb.Handle {
	h, _ := ctx.Value(tenantCtxKey{}).(*tenantdb.Handle)
	return h
}

// TenantMiddleware resolves the tenant hint carried by every business
// request (subdomain from the Host header, or an explicit X-Tenant-ID
// header) into a ready-to-use tenant database handle, and bumps the
// API-call accounting counter for the billing period.
type TenantMiddleware struct {
	resolver tenantdb.TenantResolver
	kv       store.KV
	logger   *zap.Logger
}

func NewTenantMiddleware(resolver tenantdb.TenantResolver, kv store.KV, logger *zap.Logger) *TenantMiddleware {
	return &TenantMiddleware{resolver: resolver, kv: kv, logger: logger}
}

// TenantHint extracts the tenant hint from a request. The explicit header
// wins over the subdomain.
func TenantHint(r *http.Request) string {
	if id := r.Header.Get("X-Tenant-ID"); id != "" {
		return id
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	parts := strings.Split(host, ".")
	// sub.example.com -> "sub"; bare domains and localhost carry no hint
	if len(parts) >= 3 && parts[0] != "www" {
		return parts[0]
	}
	return ""
}

func (m *TenantMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hint := TenantHint(r)
		handle, err := m.resolver.Resolve(r.Context(), hint)
		if err != nil {
			writeDomainError(w, err, m.logger)
			return
		}
		defer handle.Release()

		// best-effort accounting; a missed increment never fails a request
		if _, err := m.kv.IncrBy(r.Context(), usage.APICallKey(handle.TenantID(), time.Now()), 1); err != nil {
			m.logger.Debug("api-call counter increment failed",
				zap.String("tenant_id", handle.TenantID()), zap.Error(err))
		}

		ctx := context.WithValue(r.Context(), tenantCtxKey{}, handle)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

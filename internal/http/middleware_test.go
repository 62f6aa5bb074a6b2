package httpapi

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gearbase/internal/domain"
	"gearbase/internal/registry"
	"gearbase/internal/store"
	"gearbase/internal/tenantdb"
	"gearbase/internal/usage"
)

// minimal driver so the connection cache hands out *sql.DB pools in tests
type httpDriver struct{}

func (httpDriver) Open(name string) (driver.Conn, error) { return httpConn{}, nil }

type httpConn struct{}

func (httpConn) Prepare(query string) (driver.Stmt, error) { return nil, errors.New("not used") }
func (httpConn) Close() error                              { return nil }
func (httpConn) Begin() (driver.Tx, error)                 { return nil, errors.New("not used") }

func init() {
	sql.Register("httpfake", httpDriver{})
}

type memoryKV struct {
	mu       sync.Mutex
	counters map[string]int64
	incrErr  error
}

func newMemoryKV() *memoryKV { return &memoryKV{counters: map[string]int64{}} }

func (k *memoryKV) Get(ctx context.Context, key string) (string, error) {
	return "", store.ErrMiss
}

func (k *memoryKV) Set(ctx context.Context, key, v string, ttl time.Duration) error { return nil }

func (k *memoryKV) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.incrErr != nil {
		return 0, k.incrErr
	}
	k.counters[key] += n
	return k.counters[key], nil
}

func (k *memoryKV) GetInt(ctx context.Context, key string) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.counters[key]
	if !ok {
		return 0, store.ErrMiss
	}
	return v, nil
}

func (k *memoryKV) ScanKeys(ctx context.Context, pattern string) ([]string, error) { return nil, nil }

func (k *memoryKV) count(key string) int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.counters[key]
}

type middlewareFixture struct {
	registry *registry.MemoryRegistry
	kv       *memoryKV
	mw       *TenantMiddleware
	tenant   *domain.Tenant
}

func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	f := &middlewareFixture{
		registry: registry.NewMemoryRegistry(),
		kv:       newMemoryKV(),
	}
	cache := tenantdb.NewCacheWithOpener(tenantdb.Options{},
		func(ctx context.Context, descriptor string) (*sql.DB, error) {
			return sql.Open("httpfake", descriptor)
		}, zap.NewNop())
	t.Cleanup(func() { cache.Close() })

	f.tenant = &domain.Tenant{
		ID:             uuid.NewString(),
		Name:           "Acme Auto",
		RoutingKey:     "acme",
		ConnDescriptor: "fake-dsn-acme",
		Tier:           domain.TierStarter,
		Status:         domain.StatusProvisioning,
		Limits:         domain.DefaultLimits(domain.TierStarter),
	}
	require.NoError(t, f.registry.Create(context.Background(), f.tenant))
	require.NoError(t, f.registry.UpdateStatus(context.Background(), f.tenant.ID, domain.StatusActive))

	resolver := tenantdb.NewResolver(f.registry, cache, time.Second, zap.NewNop())
	f.mw = NewTenantMiddleware(resolver, f.kv, zap.NewNop())
	return f
}

func (f *middlewareFixture) probe(t *testing.T) (http.Handler, *int) {
	t.Helper()
	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		handle := TenantFromContext(r.Context())
		require.NotNil(t, handle)
		assert.Equal(t, f.tenant.ID, handle.TenantID())
		w.WriteHeader(http.StatusOK)
	})
	return f.mw.Wrap(inner), &calls
}

func TestTenantMiddleware_HeaderHint(t *testing.T) {
	f := newMiddlewareFixture(t)
	handler, calls := f.probe(t)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/tenant/info", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, int64(1), f.kv.count(usage.APICallKey(f.tenant.ID, time.Now())))
}

func TestTenantMiddleware_SubdomainHint(t *testing.T) {
	f := newMiddlewareFixture(t)
	handler, calls := f.probe(t)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/tenant/info", nil)
	req.Host = "acme.gearbase.example:8080"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *calls)
}

func TestTenantMiddleware_CountsEveryRequest(t *testing.T) {
	f := newMiddlewareFixture(t)
	handler, _ := f.probe(t)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/data/api/v1/tenant/info", nil)
		req.Header.Set("X-Tenant-ID", "acme")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, int64(3), f.kv.count(usage.APICallKey(f.tenant.ID, time.Now())))
}

func TestTenantMiddleware_SuspendedTenant(t *testing.T) {
	f := newMiddlewareFixture(t)
	require.NoError(t, f.registry.UpdateStatus(context.Background(), f.tenant.ID, domain.StatusSuspended))
	handler, calls := f.probe(t)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/tenant/info", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, *calls, "suspended requests never reach business handlers")
	assert.Zero(t, f.kv.count(usage.APICallKey(f.tenant.ID, time.Now())), "rejected requests are not billed")
}

func TestTenantMiddleware_UnknownTenant(t *testing.T) {
	f := newMiddlewareFixture(t)
	handler, calls := f.probe(t)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/tenant/info", nil)
	req.Header.Set("X-Tenant-ID", "nobody")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, *calls)
}

func TestTenantMiddleware_CounterOutageDoesNotFailRequest(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.kv.incrErr = errors.New("redis down")
	handler, calls := f.probe(t)

	req := httptest.NewRequest(http.MethodGet, "/data/api/v1/tenant/info", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *calls)
}

func TestTenantHint(t *testing.T) {
	cases := []struct {
		name   string
		host   string
		header string
		want   string
	}{
		{"subdomain", "acme.gearbase.example", "", "acme"},
		{"subdomain with port", "acme.gearbase.example:8080", "", "acme"},
		{"header wins over subdomain", "acme.gearbase.example", "other", "other"},
		{"www is not a tenant", "www.gearbase.example", "", ""},
		{"bare domain", "gearbase.example", "", ""},
		{"localhost", "localhost:8080", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tc.host
			if tc.header != "" {
				req.Header.Set("X-Tenant-ID", tc.header)
			}
			assert.Equal(t, tc.want, TenantHint(req))
		})
	}
}

package tenantdb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gearbase/internal/domain"
)

// OpenFunc opens a pooled connection for a tenant database descriptor.
// Injectable so tests run without a real PostgreSQL server.
type OpenFunc func(ctx context.Context, descriptor string) (*sql.DB, error)

// Options configures the per-tenant connection pools and cache behavior.
type Options struct {
	PoolMaxOpen     int
	PoolMaxIdle     int
	ConnectTimeout  time.Duration
	InvalidateGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.PoolMaxOpen <= 0 {
		o.PoolMaxOpen = 10
	}
	if o.PoolMaxIdle <= 0 {
		o.PoolMaxIdle = 2
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.InvalidateGrace <= 0 {
		o.InvalidateGrace = 10 * time.Second
	}
	return o
}

// Cache is the process-local tenant connection cache: at most one live
// handle per tenant at any time. Creation is serialized per tenant key via
// singleflight; different tenants create in parallel. No lock is held
// across the open/ping I/O.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Handle
	closed  bool

	group  singleflight.Group
	open   OpenFunc
	opts   Options
	logger *zap.Logger
}

func NewCache(opts Options, logger *zap.Logger) *Cache {
	c := &Cache{
		entries: map[string]*Handle{},
		opts:    opts.withDefaults(),
		logger:  logger,
	}
	c.open = c.openPostgres
	return c
}

// NewCacheWithOpener builds a cache with a custom opener (tests, non-pq
// drivers).
func NewCacheWithOpener(opts Options, open OpenFunc, logger *zap.Logger) *Cache {
	c := NewCache(opts, logger)
	c.open = open
	return c
}

func (c *Cache) openPostgres(ctx context.Context, descriptor string) (*sql.DB, error) {
	db, err := sql.Open("postgres", descriptor)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.opts.PoolMaxOpen)
	db.SetMaxIdleConns(c.opts.PoolMaxIdle)

	pingCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// GetOrCreate returns the cached handle for a tenant, creating it on first
// use. Concurrent calls for the same tenant share one in-flight creation.
// A changed descriptor swaps the pool: the old handle is drained and
// closed in the background. The returned handle is borrowed; callers must
// Release it.
func (c *Cache) GetOrCreate(ctx context.Context, tenantID, descriptor string) (*Handle, error) {
	if descriptor == "" {
		return nil, &domain.ConnectionError{TenantID: tenantID, Err: fmt.Errorf("empty connection descriptor")}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, fmt.Errorf("connection cache is shut down")
		}
		if e, ok := c.entries[tenantID]; ok {
			if e.descriptor == descriptor {
				if e.acquire() {
					c.mu.Unlock()
					return e, nil
				}
				// closed underneath us; fall through to recreate
				delete(c.entries, tenantID)
			} else {
				// descriptor changed (e.g. after migration to a new host):
				// drop the stale pool and build a fresh one
				delete(c.entries, tenantID)
				go c.drainAndClose(e, c.opts.InvalidateGrace)
			}
		}
		c.mu.Unlock()

		// The key includes the descriptor so callers racing a descriptor
		// change never share a flight with the stale descriptor.
		v, err, _ := c.group.Do(tenantID+"\x00"+descriptor, func() (interface{}, error) {
			db, err := c.open(ctx, descriptor)
			if err != nil {
				// not cached: the next call retries the open
				return nil, &domain.ConnectionError{TenantID: tenantID, Err: err}
			}
			h := newHandle(tenantID, descriptor, db)

			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				db.Close()
				return nil, fmt.Errorf("connection cache is shut down")
			}
			if prev, ok := c.entries[tenantID]; ok && prev != h {
				go c.drainAndClose(prev, c.opts.InvalidateGrace)
			}
			c.entries[tenantID] = h
			c.mu.Unlock()
			return h, nil
		})
		if err != nil {
			return nil, err
		}

		h := v.(*Handle)
		if h.acquire() {
			return h, nil
		}
		// invalidated between creation and borrow; loop and recreate
	}
}

// Invalidate removes and closes the cached handle for a tenant, waiting up
// to the configured grace period for outstanding borrowers before forcing
// the close. Used after migration and decommission.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	e, ok := c.entries[tenantID]
	if ok {
		delete(c.entries, tenantID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	deadline := time.Now().Add(c.opts.InvalidateGrace)
	for e.refCount() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			// force close anyway: the entry is already unreachable
			return e.close()
		case <-time.After(25 * time.Millisecond):
		}
	}
	if n := e.refCount(); n > 0 {
		c.logger.Warn("force-closing tenant connection with outstanding borrowers",
			zap.String("tenant_id", tenantID), zap.Int("borrowers", n))
	}
	return e.close()
}

// EvictIdle closes and removes handles unused for longer than maxIdle.
// Handles with outstanding borrowers are never evicted. Returns the number
// of evicted handles.
func (c *Cache) EvictIdle(maxIdle time.Duration) int {
	now := time.Now()

	c.mu.Lock()
	victims := []*Handle{}
	for id, e := range c.entries {
		if e.idle(now, maxIdle) {
			victims = append(victims, e)
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()

	for _, e := range victims {
		if err := e.close(); err != nil {
			c.logger.Warn("failed to close idle tenant connection",
				zap.String("tenant_id", e.tenantID), zap.Error(err))
		} else {
			c.logger.Debug("evicted idle tenant connection", zap.String("tenant_id", e.tenantID))
		}
	}
	return len(victims)
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close tears down the cache at shutdown, force-closing every handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	entries := c.entries
	c.entries = map[string]*Handle{}
	c.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Cache) drainAndClose(e *Handle, grace time.Duration) {
	deadline := time.Now().Add(grace)
	for e.refCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(25 * time.Millisecond)
	}
	if err := e.close(); err != nil {
		c.logger.Warn("failed to close replaced tenant connection",
			zap.String("tenant_id", e.tenantID), zap.Error(err))
	}
}

package tenantdb

import (
	"database/sql"
	"sync"
	"time"
)

// Handle is a live pooled connection to one tenant's isolated database.
// Handles are borrowed from the Cache: every successful GetOrCreate or
// Resolve must be paired with a Release. A handle is never closed while it
// has outstanding borrowers, except after the invalidation grace period
// expires.
type Handle struct {
	tenantID   string
	descriptor string
	db         *sql.DB

	mu       sync.Mutex
	refs     int
	lastUsed time.Time
	closed   bool
}

func newHandle(tenantID, descriptor string, db *sql.DB) *Handle {
	return &Handle{
		tenantID:   tenantID,
		descriptor: descriptor,
		db:         db,
		lastUsed:   time.Now(),
	}
}

// TenantID returns the tenant this handle is scoped to.
func (h *Handle) TenantID() string { return h.tenantID }

// Descriptor returns the connection descriptor the pool was opened with.
func (h *Handle) Descriptor() string { return h.descriptor }

// DB returns the underlying pool for query execution and transactions.
func (h *Handle) DB() *sql.DB { return h.db }

// Release returns the borrow taken by GetOrCreate.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
	h.lastUsed = time.Now()
}

// acquire marks a borrow. Returns false when the handle has already been
// closed and must not be handed out.
func (h *Handle) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.refs++
	h.lastUsed = time.Now()
	return true
}

func (h *Handle) refCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// idle reports whether the handle has no borrowers and has been unused
// longer than maxIdle.
func (h *Handle) idle(now time.Time, maxIdle time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs == 0 && !h.closed && now.Sub(h.lastUsed) > maxIdle
}

func (h *Handle) close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.db.Close()
}

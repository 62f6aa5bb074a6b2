package lifecycle

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gearbase/internal/domain"
)

// fakeLifecycleDriver backs the tenant connection cache in tests without a
// PostgreSQL server. Statements whose SQL contains "FAIL" return an error
// so migration failure paths can be exercised.
type fakeLifecycleDriver struct{}

func (fakeLifecycleDriver) Open(name string) (driver.Conn, error) { return &lcConn{}, nil }

type lcConn struct{}

func (c *lcConn) Prepare(query string) (driver.Stmt, error) { return lcStmt{query: query}, nil }
func (c *lcConn) Close() error                              { return nil }
func (c *lcConn) Begin() (driver.Tx, error)                 { return lcTx{}, nil }

type lcStmt struct{ query string }

func (s lcStmt) Close() error  { return nil }
func (s lcStmt) NumInput() int { return -1 }
func (s lcStmt) Exec(args []driver.Value) (driver.Result, error) {
	if strings.Contains(s.query, "FAIL") {
		return nil, errors.New("statement rejected")
	}
	return driver.RowsAffected(1), nil
}
func (s lcStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, errors.New("queries not supported by fake driver")
}

type lcTx struct{}

func (lcTx) Commit() error   { return nil }
func (lcTx) Rollback() error { return nil }

func init() {
	sql.Register("lifecyclefake", fakeLifecycleDriver{})
}

type fakeAllocator struct {
	mu        sync.Mutex
	allocated map[string]string
	dropped   []string
	allocErr  error
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{allocated: map[string]string{}}
}

func (a *fakeAllocator) AllocateDatabase(ctx context.Context, tenantID, routingKey string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allocErr != nil {
		return "", a.allocErr
	}
	descriptor := "fake-dsn-" + routingKey
	a.allocated[routingKey] = descriptor
	return descriptor, nil
}

func (a *fakeAllocator) DropDatabase(ctx context.Context, tenantID, routingKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, routingKey)
	a.dropped = append(a.dropped, routingKey)
	return nil
}

type fakeStorage struct {
	mu         sync.Mutex
	namespaces map[string]bool
	backups    map[string][]byte
	ensureErr  error
	backupErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{namespaces: map[string]bool{}, backups: map[string][]byte{}}
}

func (s *fakeStorage) EnsureNamespace(ctx context.Context, tenantID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensureErr != nil {
		return "", s.ensureErr
	}
	s.namespaces[tenantID] = true
	return "ns-" + tenantID, nil
}

func (s *fakeStorage) DeleteNamespace(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, tenantID)
	return nil
}

func (s *fakeStorage) WriteBackup(ctx context.Context, tenantID, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backupErr != nil {
		return "", s.backupErr
	}
	location := fmt.Sprintf("mem://%s/%s", tenantID, name)
	s.backups[location] = data
	return location, nil
}

func (s *fakeStorage) NamespaceBytes(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, b := range s.backups {
		total += int64(len(b))
	}
	return total, nil
}

func (s *fakeStorage) hasNamespace(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namespaces[tenantID]
}

type fakeSchema struct {
	mu          sync.Mutex
	initialized int
	seeded      int
	deactivated int
	initErr     error
	snapErr     error
}

func (s *fakeSchema) Initialize(ctx context.Context, db *sql.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return s.initErr
	}
	s.initialized++
	return nil
}

func (s *fakeSchema) SeedDefaults(ctx context.Context, db *sql.DB, admin AdminSeed) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded++
	return "admin-ref-1", nil
}

func (s *fakeSchema) DeactivateUsers(ctx context.Context, db *sql.DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated++
	return nil
}

func (s *fakeSchema) Snapshot(ctx context.Context, db *sql.DB) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapErr != nil {
		return nil, s.snapErr
	}
	return []byte(`{"users":[]}`), nil
}

type fakeUsage struct {
	snapshots []domain.UsageSnapshot
	err       error
}

func (u *fakeUsage) GetUsage(ctx context.Context, tenantID string) ([]domain.UsageSnapshot, error) {
	if u.err != nil {
		return nil, u.err
	}
	return u.snapshots, nil
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTenantNotFound is returned when no non-deleted tenant matches a
	// routing key or tenant ID.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrRoutingKeyTaken is returned when a provision request asks for a
	// routing key already held by a non-deleted tenant.
	ErrRoutingKeyTaken = errors.New("routing key already taken")

	// ErrLifecycleConflict is returned when a lifecycle operation is
	// requested while another one is still running for the same tenant.
	ErrLifecycleConflict = errors.New("lifecycle operation already in progress for tenant")
)

// TenantUnavailableError is returned by resolution when the tenant exists
// but is not active.
type TenantUnavailableError struct {
	Status Status
}

func (e *TenantUnavailableError) Error() string {
	return fmt.Sprintf("tenant unavailable (status=%s)", e.Status)
}

// RegistryError wraps a master registry failure. It is transient: callers
// may retry with backoff.
type RegistryError struct {
	Op  string
	Err error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// ConnectionError wraps a failure to open or ping a tenant database pool.
// It is transient and never cached: the next resolution retries.
type ConnectionError struct {
	TenantID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tenant %s: connection failed: %v", e.TenantID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// LimitViolationError is returned by a plan change whose new limits are
// below the tenant's current usage.
type LimitViolationError struct {
	Resource  ResourceKind
	Current   int64
	Requested int64
}

func (e *LimitViolationError) Error() string {
	return fmt.Sprintf("limit violation on %s: current usage %d exceeds requested limit %d",
		e.Resource, e.Current, e.Requested)
}

// MigrationError reports a failed migration attempt. Partial lists the
// schema objects touched before the failing statement; on transactional
// storage those changes were rolled back and the list is audit-only.
type MigrationError struct {
	Script  string
	Partial []string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed (objects touched: %v): %v", e.Script, e.Partial, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error is transient (registry outage or
// tenant connection failure) and safe to retry with backoff.
func IsRetryable(err error) bool {
	var re *RegistryError
	var ce *ConnectionError
	return errors.As(err, &re) || errors.As(err, &ce)
}

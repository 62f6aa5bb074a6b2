package storage

import (
	"context"
)

// Provider is the object-storage backend for tenant media namespaces and
// backup artifacts. Locations returned by WriteBackup are opaque strings
// handed back to callers; nothing in this subsystem parses them.
type Provider interface {
	// EnsureNamespace allocates (or re-confirms) the storage namespace for
	// a tenant and returns its name. Idempotent.
	EnsureNamespace(ctx context.Context, tenantID string) (string, error)

	// DeleteNamespace removes the tenant's namespace and everything in it.
	DeleteNamespace(ctx context.Context, tenantID string) error

	// WriteBackup stores a backup artifact and returns its opaque location.
	WriteBackup(ctx context.Context, tenantID string, name string, data []byte) (string, error)

	// NamespaceBytes returns the number of bytes stored in the tenant's
	// namespace, for storage quota accounting.
	NamespaceBytes(ctx context.Context, tenantID string) (int64, error)
}

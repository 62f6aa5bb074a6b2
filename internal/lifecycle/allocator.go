package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// DatabaseAllocator creates and destroys the isolated database backing a
// tenant, returning the connection descriptor for it.
type DatabaseAllocator interface {
	// AllocateDatabase creates the tenant database and returns its
	// descriptor. Idempotent: an already-existing database is not an
	// error.
	AllocateDatabase(ctx context.Context, tenantID, routingKey string) (descriptor string, err error)

	// DropDatabase removes the tenant database. All pools against it must
	// be closed first.
	DropDatabase(ctx context.Context, tenantID, routingKey string) error
}

var dbNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// PostgresAllocator provisions one PostgreSQL database per tenant on the
// cluster behind adminDB. Descriptors are built from dsnTemplate, which
// must contain a %s placeholder for the database name.
type PostgresAllocator struct {
	adminDB     *sql.DB
	dsnTemplate string
}

func NewPostgresAllocator(adminDB *sql.DB, dsnTemplate string) *PostgresAllocator {
	return &PostgresAllocator{adminDB: adminDB, dsnTemplate: dsnTemplate}
}

var _ DatabaseAllocator = (*PostgresAllocator)(nil)

func tenantDatabaseName(routingKey string) string {
	return "gearbase_t_" + strings.ReplaceAll(routingKey, "-", "_")
}

func (a *PostgresAllocator) AllocateDatabase(ctx context.Context, tenantID, routingKey string) (string, error) {
	name := tenantDatabaseName(routingKey)
	if !dbNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid tenant database name %q", name)
	}

	var exists bool
	err := a.adminDB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("failed to check tenant database: %w", err)
	}
	if !exists {
		// CREATE DATABASE cannot be parameterized or run in a transaction;
		// the name is validated against dbNamePattern above
		if _, err := a.adminDB.ExecContext(ctx, "CREATE DATABASE "+name); err != nil {
			return "", fmt.Errorf("failed to create tenant database %s: %w", name, err)
		}
	}
	return fmt.Sprintf(a.dsnTemplate, name), nil
}

func (a *PostgresAllocator) DropDatabase(ctx context.Context, tenantID, routingKey string) error {
	name := tenantDatabaseName(routingKey)
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("invalid tenant database name %q", name)
	}
	if _, err := a.adminDB.ExecContext(ctx, "DROP DATABASE IF EXISTS "+name); err != nil {
		return fmt.Errorf("failed to drop tenant database %s: %w", name, err)
	}
	return nil
}

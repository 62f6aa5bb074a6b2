package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AdminSeed is the initial administrator account created during
// provisioning. The password is bcrypt-hashed before it touches the
// tenant database.
type AdminSeed struct {
	Email    string
	Password string
}

// TenantSchema performs the per-tenant database work of lifecycle
// operations: schema init, default seeding, user deactivation, and
// logical snapshots for backups. Split out as an interface so the manager
// is testable without PostgreSQL.
type TenantSchema interface {
	Initialize(ctx context.Context, db *sql.DB) error
	SeedDefaults(ctx context.Context, db *sql.DB, admin AdminSeed) (adminRef string, err error)
	DeactivateUsers(ctx context.Context, db *sql.DB) error
	Snapshot(ctx context.Context, db *sql.DB) ([]byte, error)
}

// tenantTables lists the tables owned by every tenant database, in
// snapshot order.
var tenantTables = []string{"users", "locations", "departments", "accessories", "app_config"}

// PostgresTenantSchema is the production TenantSchema.
type PostgresTenantSchema struct{}

func NewPostgresTenantSchema() *PostgresTenantSchema { return &PostgresTenantSchema{} }

var _ TenantSchema = (*PostgresTenantSchema)(nil)

// Initialize creates the tenant schema. Every statement is idempotent so
// provisioning can be re-run after a crash between steps.
func (s *PostgresTenantSchema) Initialize(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS locations (
			location_id UUID PRIMARY KEY,
			location_name TEXT NOT NULL UNIQUE,
			address TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS departments (
			department_id UUID PRIMARY KEY,
			department_name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS accessories (
			accessory_id UUID PRIMARY KEY,
			sku TEXT NOT NULL UNIQUE,
			accessory_name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			location_id UUID REFERENCES locations(location_id),
			department_id UUID REFERENCES departments(department_id),
			price_cents BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			config_key TEXT PRIMARY KEY,
			config_value TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize tenant schema: %w", err)
		}
	}
	return nil
}

// SeedDefaults inserts the baseline reference data and the initial
// administrator. Re-runs are safe: every insert is ON CONFLICT DO NOTHING.
func (s *PostgresTenantSchema) SeedDefaults(ctx context.Context, db *sql.DB, admin AdminSeed) (string, error) {
	if admin.Email == "" || admin.Password == "" {
		return "", fmt.Errorf("admin email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin password: %w", err)
	}

	adminID := uuid.NewString()
	_, err = db.ExecContext(ctx,
		`INSERT INTO users (user_id, email, password_hash, role, status)
		 VALUES ($1::uuid, $2, $3, 'admin', 'active')
		 ON CONFLICT (email) DO NOTHING`,
		adminID, admin.Email, string(hash),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create admin user: %w", err)
	}
	// re-run after a crash: pick up the existing admin row
	if err := db.QueryRowContext(ctx,
		`SELECT user_id::text FROM users WHERE email = $1`, admin.Email,
	).Scan(&adminID); err != nil {
		return "", fmt.Errorf("failed to read back admin user: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO locations (location_id, location_name)
		 VALUES ($1::uuid, 'Main Workshop')
		 ON CONFLICT (location_name) DO NOTHING`,
		uuid.NewString(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to seed default location: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO departments (department_id, department_name)
		 VALUES ($1::uuid, 'Fitment')
		 ON CONFLICT (department_name) DO NOTHING`,
		uuid.NewString(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to seed default department: %w", err)
	}

	defaults := map[string]string{
		"currency":       "USD",
		"invoice_prefix": "INV",
		"workflow_mode":  "standard",
	}
	for k, v := range defaults {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO app_config (config_key, config_value)
			 VALUES ($1, $2) ON CONFLICT (config_key) DO NOTHING`,
			k, v,
		); err != nil {
			return "", fmt.Errorf("failed to seed config %s: %w", k, err)
		}
	}

	return adminID, nil
}

func (s *PostgresTenantSchema) DeactivateUsers(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `UPDATE users SET status = 'inactive'`); err != nil {
		return fmt.Errorf("failed to deactivate tenant users: %w", err)
	}
	return nil
}

// Snapshot produces a logical JSON dump of every tenant table, used as
// the backup artifact for decommission and pre-migration backups.
func (s *PostgresTenantSchema) Snapshot(ctx context.Context, db *sql.DB) ([]byte, error) {
	dump := map[string][]map[string]any{}
	for _, table := range tenantTables {
		rows, err := dumpTable(ctx, db, table)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot table %s: %w", table, err)
		}
		dump[table] = rows
	}
	return json.Marshal(dump)
}

func dumpTable(ctx context.Context, db *sql.DB, table string) ([]map[string]any, error) {
	// table names come from the fixed tenantTables list, never from input
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := map[string]any{}
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = vals[i]
			}
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"gearbase/internal/domain"
)

// PostgresRegistry is the master registry backed by a shared PostgreSQL
// database.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

var _ Registry = (*PostgresRegistry)(nil)

// uniqueViolation is the PostgreSQL error code raised when an insert hits
// the partial unique index on routing_key.
const uniqueViolation = "23505"

// EnsureSchema creates the registry tables and indexes if they do not
// exist. Called once at startup.
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			tenant_id UUID PRIMARY KEY,
			tenant_name TEXT NOT NULL,
			routing_key TEXT NOT NULL,
			conn_descriptor TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'starter',
			status TEXT NOT NULL DEFAULT 'provisioning',
			limits JSONB NOT NULL DEFAULT '{}'::jsonb,
			features JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			decommissioned_at TIMESTAMPTZ
		)`,
		// routing keys are unique among non-deleted tenants only, so a
		// purged subdomain can be reused
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tenants_routing_key
			ON tenants (routing_key) WHERE status <> 'deleted'`,
		`CREATE TABLE IF NOT EXISTS tenant_migrations (
			migration_id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			script TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			objects_changed JSONB NOT NULL DEFAULT '[]'::jsonb,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			backup_location TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tenant_migrations_tenant
			ON tenant_migrations (tenant_id, applied_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return &domain.RegistryError{Op: "ensure schema", Err: err}
		}
	}
	return nil
}

const tenantColumns = `
	tenant_id::text,
	tenant_name,
	routing_key,
	COALESCE(conn_descriptor, '') AS conn_descriptor,
	tier,
	status,
	COALESCE(limits, '{}'::jsonb) AS limits,
	COALESCE(features, '{}'::jsonb) AS features,
	created_at,
	updated_at,
	decommissioned_at`

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	var t domain.Tenant
	var limitsRaw, featuresRaw json.RawMessage
	var decommissionedAt sql.NullTime
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.RoutingKey,
		&t.ConnDescriptor,
		&t.Tier,
		&t.Status,
		&limitsRaw,
		&featuresRaw,
		&t.CreatedAt,
		&t.UpdatedAt,
		&decommissionedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(limitsRaw, &t.Limits); err != nil {
		return nil, fmt.Errorf("failed to decode limits: %w", err)
	}
	if len(featuresRaw) > 0 && string(featuresRaw) != "{}" {
		if err := json.Unmarshal(featuresRaw, &t.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features: %w", err)
		}
	}
	if decommissionedAt.Valid {
		t.DecommissionedAt = &decommissionedAt.Time
	}
	return &t, nil
}

func (r *PostgresRegistry) Create(ctx context.Context, tenant *domain.Tenant) error {
	if tenant == nil || tenant.ID == "" {
		return fmt.Errorf("tenant with tenant_id is required")
	}
	if tenant.RoutingKey == "" {
		return fmt.Errorf("routing_key is required")
	}
	limitsRaw, err := json.Marshal(tenant.Limits)
	if err != nil {
		return fmt.Errorf("failed to encode limits: %w", err)
	}
	featuresRaw := []byte("{}")
	if len(tenant.Features) > 0 {
		featuresRaw, err = json.Marshal(tenant.Features)
		if err != nil {
			return fmt.Errorf("failed to encode features: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tenants (tenant_id, tenant_name, routing_key, conn_descriptor, tier, status, limits, features)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb)`,
		tenant.ID,
		tenant.Name,
		tenant.RoutingKey,
		tenant.ConnDescriptor,
		string(tenant.Tier),
		string(tenant.Status),
		string(limitsRaw),
		string(featuresRaw),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrRoutingKeyTaken
		}
		return &domain.RegistryError{Op: "create tenant", Err: err}
	}
	return nil
}

func (r *PostgresRegistry) GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE tenant_id = $1::uuid AND status <> 'deleted'`, tenantColumns)
	t, err := scanTenant(r.db.QueryRowContext(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, &domain.RegistryError{Op: "get tenant", Err: err}
	}
	return t, nil
}

func (r *PostgresRegistry) GetByRoutingKey(ctx context.Context, routingKey string) (*domain.Tenant, error) {
	if routingKey == "" {
		return nil, fmt.Errorf("routing_key is required")
	}
	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE routing_key = $1 AND status <> 'deleted'`, tenantColumns)
	t, err := scanTenant(r.db.QueryRowContext(ctx, query, routingKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, &domain.RegistryError{Op: "get tenant by routing key", Err: err}
	}
	return t, nil
}

func (r *PostgresRegistry) List(ctx context.Context, filter Filters, page, size int) ([]*domain.Tenant, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	offset := (page - 1) * size

	where := []string{"status <> 'deleted'"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("tenant_name ILIKE $%d", argIdx))
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}
	whereClause := "WHERE " + strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM tenants %s`, whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, &domain.RegistryError{Op: "count tenants", Err: err}
	}

	query := fmt.Sprintf(`SELECT %s FROM tenants %s ORDER BY tenant_name LIMIT $%d OFFSET $%d`,
		tenantColumns, whereClause, argIdx, argIdx+1)
	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, &domain.RegistryError{Op: "list tenants", Err: err}
	}
	defer rows.Close()

	tenants := []*domain.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, &domain.RegistryError{Op: "scan tenant", Err: err}
		}
		tenants = append(tenants, t)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, &domain.RegistryError{Op: "iterate tenants", Err: err}
	}
	return tenants, total, nil
}

func (r *PostgresRegistry) UpdateStatus(ctx context.Context, tenantID string, status domain.Status) error {
	current, err := r.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(current.Status, status) {
		return fmt.Errorf("invalid status transition %s -> %s", current.Status, status)
	}

	query := `UPDATE tenants SET status = $2, updated_at = now() WHERE tenant_id = $1::uuid`
	if status == domain.StatusDecommissioned {
		query = `UPDATE tenants SET status = $2, updated_at = now(), decommissioned_at = now() WHERE tenant_id = $1::uuid`
	}
	result, err := r.db.ExecContext(ctx, query, tenantID, string(status))
	if err != nil {
		return &domain.RegistryError{Op: "set tenant status", Err: err}
	}
	return checkAffected(result, tenantID)
}

func (r *PostgresRegistry) UpdateDescriptor(ctx context.Context, tenantID string, descriptor string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET conn_descriptor = $2, updated_at = now() WHERE tenant_id = $1::uuid AND status <> 'deleted'`,
		tenantID, descriptor,
	)
	if err != nil {
		return &domain.RegistryError{Op: "set conn descriptor", Err: err}
	}
	return checkAffected(result, tenantID)
}

func (r *PostgresRegistry) UpdateTierLimits(ctx context.Context, tenantID string, tier domain.Tier, limits domain.ResourceLimits) error {
	if !tier.IsValid() {
		return fmt.Errorf("invalid tier %q", tier)
	}
	limitsRaw, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("failed to encode limits: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.RegistryError{Op: "begin plan update", Err: err}
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE tenants SET tier = $2, limits = $3::jsonb, updated_at = now()
		 WHERE tenant_id = $1::uuid AND status <> 'deleted'`,
		tenantID, string(tier), string(limitsRaw),
	)
	if err != nil {
		return &domain.RegistryError{Op: "update plan", Err: err}
	}
	if err := checkAffected(result, tenantID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &domain.RegistryError{Op: "commit plan update", Err: err}
	}
	return nil
}

func (r *PostgresRegistry) Delete(ctx context.Context, tenantID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tenants WHERE tenant_id = $1::uuid`, tenantID)
	if err != nil {
		return &domain.RegistryError{Op: "delete tenant", Err: err}
	}
	return checkAffected(result, tenantID)
}

func (r *PostgresRegistry) RecordMigration(ctx context.Context, rec *domain.MigrationRecord) error {
	objectsRaw, err := json.Marshal(rec.ObjectsChanged)
	if err != nil {
		return fmt.Errorf("failed to encode objects: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tenant_migrations (migration_id, tenant_id, script, success, objects_changed, duration_ms, backup_location, applied_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5::jsonb, $6, $7, $8)`,
		rec.ID, rec.TenantID, rec.Script, rec.Success, string(objectsRaw),
		rec.DurationMS, rec.BackupLocation, rec.AppliedAt,
	)
	if err != nil {
		return &domain.RegistryError{Op: "record migration", Err: err}
	}
	return nil
}

func (r *PostgresRegistry) ListMigrations(ctx context.Context, tenantID string) ([]*domain.MigrationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT migration_id::text, tenant_id::text, script, success, objects_changed, duration_ms, COALESCE(backup_location, ''), applied_at
		 FROM tenant_migrations WHERE tenant_id = $1::uuid ORDER BY applied_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, &domain.RegistryError{Op: "list migrations", Err: err}
	}
	defer rows.Close()

	records := []*domain.MigrationRecord{}
	for rows.Next() {
		var rec domain.MigrationRecord
		var objectsRaw json.RawMessage
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Script, &rec.Success,
			&objectsRaw, &rec.DurationMS, &rec.BackupLocation, &rec.AppliedAt); err != nil {
			return nil, &domain.RegistryError{Op: "scan migration", Err: err}
		}
		if err := json.Unmarshal(objectsRaw, &rec.ObjectsChanged); err != nil {
			return nil, fmt.Errorf("failed to decode objects: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.RegistryError{Op: "iterate migrations", Err: err}
	}
	return records, nil
}

func checkAffected(result sql.Result, tenantID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &domain.RegistryError{Op: "rows affected", Err: err}
	}
	if rowsAffected == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gearbase/internal/domain"
	"gearbase/internal/registry"
	"gearbase/internal/storage"
	"gearbase/internal/tenantdb"
)

// UsageReader is the slice of the resource monitor the plan-change guard
// needs.
type UsageReader interface {
	GetUsage(ctx context.Context, tenantID string) ([]domain.UsageSnapshot, error)
}

// Manager orchestrates multi-step tenant lifecycle operations. Operations
// on the same tenant are mutually exclusive: a second concurrent call
// fails fast with domain.ErrLifecycleConflict instead of interleaving.
type Manager struct {
	registry  registry.Registry
	cache     *tenantdb.Cache
	storage   storage.Provider
	allocator DatabaseAllocator
	schema    TenantSchema
	usage     UsageReader
	limitsFor func(domain.Tier) domain.ResourceLimits
	locks     *keyedLocks
	logger    *zap.Logger
}

func NewManager(
	reg registry.Registry,
	cache *tenantdb.Cache,
	provider storage.Provider,
	allocator DatabaseAllocator,
	schema TenantSchema,
	usage UsageReader,
	limitsFor func(domain.Tier) domain.ResourceLimits,
	logger *zap.Logger,
) *Manager {
	if limitsFor == nil {
		limitsFor = domain.DefaultLimits
	}
	return &Manager{
		registry:  reg,
		cache:     cache,
		storage:   provider,
		allocator: allocator,
		schema:    schema,
		usage:     usage,
		limitsFor: limitsFor,
		locks:     newKeyedLocks(),
		logger:    logger,
	}
}

var routingKeyPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ProvisionConfig describes a new tenant.
type ProvisionConfig struct {
	Name          string                 `json:"tenant_name"`
	RoutingKey    string                 `json:"routing_key"`
	Tier          domain.Tier            `json:"tier"`
	Limits        *domain.ResourceLimits `json:"limits,omitempty"`
	Features      map[string]bool        `json:"features,omitempty"`
	AdminEmail    string                 `json:"admin_email"`
	AdminPassword string                 `json:"admin_password"`
}

func (c *ProvisionConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("tenant_name is required")
	}
	if !routingKeyPattern.MatchString(c.RoutingKey) {
		return fmt.Errorf("invalid routing key %q", c.RoutingKey)
	}
	// resolution falls back from routing key to tenant ID, so a
	// UUID-shaped routing key would shadow another tenant's ID
	if _, err := uuid.Parse(c.RoutingKey); err == nil {
		return fmt.Errorf("routing key %q must not be a UUID", c.RoutingKey)
	}
	if !c.Tier.IsValid() {
		return fmt.Errorf("invalid tier %q", c.Tier)
	}
	if c.AdminEmail == "" || c.AdminPassword == "" {
		return fmt.Errorf("admin_email and admin_password are required")
	}
	return nil
}

// ProvisionTenant creates a tenant end to end: registry record
// (provisioning), isolated database, schema init, seeded defaults and
// admin account, storage namespace, then flips the record active. On any
// failure after the registry insert it compensates by tearing the partial
// tenant back down and surfaces the original error; compensation failures
// are logged, never returned in place of the original error.
func (m *Manager) ProvisionTenant(ctx context.Context, cfg ProvisionConfig) (tenantID string, adminRef string, err error) {
	if err := cfg.validate(); err != nil {
		return "", "", err
	}

	limits := m.limitsFor(cfg.Tier)
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}

	tenantID = uuid.NewString()
	if !m.locks.tryAcquire(tenantID) {
		return "", "", domain.ErrLifecycleConflict
	}
	defer m.locks.release(tenantID)

	// Step 1: registry record. The partial unique index makes the
	// routing-key check and insert atomic across concurrent provisions.
	tenant := &domain.Tenant{
		ID:         tenantID,
		Name:       cfg.Name,
		RoutingKey: cfg.RoutingKey,
		Tier:       cfg.Tier,
		Status:     domain.StatusProvisioning,
		Limits:     limits,
		Features:   cfg.Features,
	}
	if err := m.registry.Create(ctx, tenant); err != nil {
		return "", "", err
	}

	m.logger.Info("provisioning tenant",
		zap.String("tenant_id", tenantID),
		zap.String("routing_key", cfg.RoutingKey),
		zap.String("tier", string(cfg.Tier)),
	)

	compensate := func(stepErr error) {
		m.logger.Error("provisioning failed, rolling back partial tenant",
			zap.String("tenant_id", tenantID), zap.Error(stepErr))
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := m.cache.Invalidate(cleanupCtx, tenantID); cerr != nil {
			m.logger.Warn("cleanup: cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(cerr))
		}
		if cerr := m.allocator.DropDatabase(cleanupCtx, tenantID, cfg.RoutingKey); cerr != nil {
			m.logger.Warn("cleanup: tenant database drop failed", zap.String("tenant_id", tenantID), zap.Error(cerr))
		}
		if cerr := m.storage.DeleteNamespace(cleanupCtx, tenantID); cerr != nil {
			m.logger.Warn("cleanup: storage namespace delete failed", zap.String("tenant_id", tenantID), zap.Error(cerr))
		}
		if cerr := m.registry.Delete(cleanupCtx, tenantID); cerr != nil {
			m.logger.Warn("cleanup: registry record delete failed", zap.String("tenant_id", tenantID), zap.Error(cerr))
		}
	}

	// Step 2: isolated database.
	if err := ctx.Err(); err != nil {
		compensate(err)
		return "", "", err
	}
	descriptor, err := m.allocator.AllocateDatabase(ctx, tenantID, cfg.RoutingKey)
	if err != nil {
		compensate(err)
		return "", "", fmt.Errorf("failed to allocate tenant database: %w", err)
	}
	if err := m.registry.UpdateDescriptor(ctx, tenantID, descriptor); err != nil {
		compensate(err)
		return "", "", err
	}

	// Steps 3-4: schema init and seeding, idempotent against leftovers
	// from an earlier crashed attempt on the same database.
	handle, err := m.cache.GetOrCreate(ctx, tenantID, descriptor)
	if err != nil {
		compensate(err)
		return "", "", err
	}
	err = m.schema.Initialize(ctx, handle.DB())
	if err == nil {
		adminRef, err = m.schema.SeedDefaults(ctx, handle.DB(), AdminSeed{
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		})
	}
	handle.Release()
	if err != nil {
		compensate(err)
		return "", "", err
	}

	// Step 5: storage namespace for tenant media.
	if err := ctx.Err(); err != nil {
		compensate(err)
		return "", "", err
	}
	if _, err := m.storage.EnsureNamespace(ctx, tenantID); err != nil {
		compensate(err)
		return "", "", fmt.Errorf("failed to allocate storage namespace: %w", err)
	}

	// Step 6: go live.
	if err := m.registry.UpdateStatus(ctx, tenantID, domain.StatusActive); err != nil {
		compensate(err)
		return "", "", err
	}

	m.logger.Info("tenant provisioned",
		zap.String("tenant_id", tenantID),
		zap.String("routing_key", cfg.RoutingKey),
	)
	return tenantID, adminRef, nil
}

// DecommissionOptions controls backup and purge behavior.
type DecommissionOptions struct {
	BackupFirst      bool `json:"backup_first"`
	PurgeImmediately bool `json:"purge_immediately"`
}

// DecommissionResult reports what a decommission actually did.
type DecommissionResult struct {
	BackupLocation string   `json:"backup_location,omitempty"`
	Purged         bool     `json:"purged"`
	Warnings       []string `json:"warnings,omitempty"`
}

// DecommissionTenant takes a tenant out of service. With BackupFirst a
// backup artifact is produced before anything destructive; a failed backup
// blocks a requested purge but only warns otherwise. Without purge the
// registry record stays behind with status decommissioned for audit and
// later reactivation.
func (m *Manager) DecommissionTenant(ctx context.Context, tenantID string, opts DecommissionOptions) (*DecommissionResult, error) {
	if !m.locks.tryAcquire(tenantID) {
		return nil, domain.ErrLifecycleConflict
	}
	defer m.locks.release(tenantID)

	// read under the lock: the descriptor and status must reflect any
	// lifecycle operation that just released it
	tenant, err := m.registry.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &DecommissionResult{}

	// Backup strictly precedes any destructive step.
	if opts.BackupFirst {
		location, err := m.backupTenant(ctx, tenant)
		if err != nil {
			if opts.PurgeImmediately {
				// backup-then-purge must never purge on a failed backup
				return nil, fmt.Errorf("backup failed, refusing to purge: %w", err)
			}
			m.logger.Warn("decommission backup failed, continuing without purge",
				zap.String("tenant_id", tenantID), zap.Error(err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("backup failed: %v", err))
		} else {
			result.BackupLocation = location
		}
	}

	if err := m.registry.UpdateStatus(ctx, tenantID, domain.StatusDecommissioning); err != nil {
		return nil, err
	}

	if tenant.ConnDescriptor != "" {
		handle, err := m.cache.GetOrCreate(ctx, tenantID, tenant.ConnDescriptor)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("user deactivation skipped: %v", err))
		} else {
			if err := m.schema.DeactivateUsers(ctx, handle.DB()); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("user deactivation failed: %v", err))
			}
			handle.Release()
		}
	}

	// Pools must be closed before the tenant database can be dropped.
	if err := m.cache.Invalidate(ctx, tenantID); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("cache invalidation failed: %v", err))
	}

	if opts.PurgeImmediately {
		if err := m.allocator.DropDatabase(ctx, tenantID, tenant.RoutingKey); err != nil {
			return result, fmt.Errorf("failed to delete tenant data: %w", err)
		}
		if err := m.storage.DeleteNamespace(ctx, tenantID); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("storage namespace delete failed: %v", err))
		}
		if err := m.registry.Delete(ctx, tenantID); err != nil {
			return result, err
		}
		result.Purged = true
		m.logger.Info("tenant purged", zap.String("tenant_id", tenantID))
		return result, nil
	}

	if err := m.registry.UpdateStatus(ctx, tenantID, domain.StatusDecommissioned); err != nil {
		return result, err
	}
	m.logger.Info("tenant decommissioned", zap.String("tenant_id", tenantID))
	return result, nil
}

func (m *Manager) backupTenant(ctx context.Context, tenant *domain.Tenant) (string, error) {
	if tenant.ConnDescriptor == "" {
		return "", fmt.Errorf("tenant has no connection descriptor")
	}
	handle, err := m.cache.GetOrCreate(ctx, tenant.ID, tenant.ConnDescriptor)
	if err != nil {
		return "", err
	}
	snapshot, err := m.schema.Snapshot(ctx, handle.DB())
	handle.Release()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.json", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
	return m.storage.WriteBackup(ctx, tenant.ID, name, snapshot)
}

// MigrationStatement is one step of a migration script, tagged with the
// schema object it touches for audit and failure reporting.
type MigrationStatement struct {
	Object string `json:"object"`
	SQL    string `json:"sql"`
}

// MigrationScript is a schema/data change applied to exactly one tenant
// database.
type MigrationScript struct {
	ID         string               `json:"id"`
	Statements []MigrationStatement `json:"statements"`
}

// MigrateOptions controls migration execution.
type MigrateOptions struct {
	DryRun      bool `json:"dry_run"`
	BackupFirst bool `json:"backup_first"`
}

// MigrateTenant applies a migration script to one tenant database. A dry
// run executes the script inside a transaction that is always rolled
// back, so it validates the statements with zero persisted mutation and
// records nothing. A real run records a MigrationRecord either way and,
// on success, invalidates the cached connection so later resolutions see
// the new schema.
func (m *Manager) MigrateTenant(ctx context.Context, tenantID string, script MigrationScript, opts MigrateOptions) (*domain.MigrationRecord, error) {
	if script.ID == "" || len(script.Statements) == 0 {
		return nil, fmt.Errorf("migration script with at least one statement is required")
	}

	if !m.locks.tryAcquire(tenantID) {
		return nil, domain.ErrLifecycleConflict
	}
	defer m.locks.release(tenantID)

	tenant, err := m.registry.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	switch tenant.Status {
	case domain.StatusActive, domain.StatusSuspended:
	default:
		return nil, &domain.TenantUnavailableError{Status: tenant.Status}
	}

	backupLocation := ""
	if opts.BackupFirst && !opts.DryRun {
		backupLocation, err = m.backupTenant(ctx, tenant)
		if err != nil {
			return nil, fmt.Errorf("pre-migration backup failed: %w", err)
		}
	}

	handle, err := m.cache.GetOrCreate(ctx, tenantID, tenant.ConnDescriptor)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	touched, execErr := m.runScript(ctx, handle, script, opts.DryRun)
	duration := time.Since(started)
	// released before Invalidate below, which waits out borrowers
	handle.Release()

	if opts.DryRun {
		if execErr != nil {
			return nil, &domain.MigrationError{Script: script.ID, Partial: touched, Err: execErr}
		}
		return &domain.MigrationRecord{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			Script:         script.ID,
			Success:        true,
			ObjectsChanged: touched,
			DurationMS:     duration.Milliseconds(),
			AppliedAt:      time.Now(),
		}, nil
	}

	record := &domain.MigrationRecord{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Script:         script.ID,
		Success:        execErr == nil,
		ObjectsChanged: touched,
		DurationMS:     duration.Milliseconds(),
		BackupLocation: backupLocation,
		AppliedAt:      time.Now(),
	}
	if err := m.registry.RecordMigration(ctx, record); err != nil {
		m.logger.Error("failed to record migration attempt",
			zap.String("tenant_id", tenantID), zap.String("script", script.ID), zap.Error(err))
	}

	if execErr != nil {
		return record, &domain.MigrationError{Script: script.ID, Partial: touched, Err: execErr}
	}

	// New resolutions must see the migrated schema, not a stale pool.
	if err := m.cache.Invalidate(ctx, tenantID); err != nil {
		m.logger.Warn("post-migration cache invalidation failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}

	m.logger.Info("tenant migrated",
		zap.String("tenant_id", tenantID),
		zap.String("script", script.ID),
		zap.Int("statements", len(script.Statements)),
	)
	return record, nil
}

// runScript executes the script in one transaction. PostgreSQL DDL is
// transactional, so a failed statement rolls everything back; the touched
// list is still reported for audit. dryRun always rolls back.
func (m *Manager) runScript(ctx context.Context, handle *tenantdb.Handle, script MigrationScript, dryRun bool) ([]string, error) {
	tx, err := handle.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	touched := []string{}
	for _, stmt := range script.Statements {
		if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
			tx.Rollback()
			return touched, fmt.Errorf("statement on %s: %w", stmt.Object, err)
		}
		touched = append(touched, stmt.Object)
	}

	if dryRun {
		if err := tx.Rollback(); err != nil {
			return touched, fmt.Errorf("dry-run rollback failed: %w", err)
		}
		return touched, nil
	}
	if err := tx.Commit(); err != nil {
		return touched, err
	}
	return touched, nil
}

// UpgradeTenantPlan changes tier and limits: a pure registry mutation. A
// downgrade whose new limits fall below current usage is rejected with a
// LimitViolationError unless override is set. Unavailable usage kinds are
// skipped by the guard.
func (m *Manager) UpgradeTenantPlan(ctx context.Context, tenantID string, newTier domain.Tier, newLimits *domain.ResourceLimits, override bool) (*domain.Tenant, error) {
	if !newTier.IsValid() {
		return nil, fmt.Errorf("invalid tier %q", newTier)
	}

	if !m.locks.tryAcquire(tenantID) {
		return nil, domain.ErrLifecycleConflict
	}
	defer m.locks.release(tenantID)

	if _, err := m.registry.GetByID(ctx, tenantID); err != nil {
		return nil, err
	}

	limits := m.limitsFor(newTier)
	if newLimits != nil {
		limits = *newLimits
	}

	if !override {
		if err := m.checkDowngrade(ctx, tenantID, limits); err != nil {
			return nil, err
		}
	}

	if err := m.registry.UpdateTierLimits(ctx, tenantID, newTier, limits); err != nil {
		return nil, err
	}
	m.logger.Info("tenant plan updated",
		zap.String("tenant_id", tenantID), zap.String("tier", string(newTier)))
	return m.registry.GetByID(ctx, tenantID)
}

func (m *Manager) checkDowngrade(ctx context.Context, tenantID string, limits domain.ResourceLimits) error {
	if m.usage == nil {
		return nil
	}
	snapshots, err := m.usage.GetUsage(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to read current usage for downgrade check: %w", err)
	}
	limitFor := map[domain.ResourceKind]int64{
		domain.ResourceUsers:       limits.MaxUsers,
		domain.ResourceAccessories: limits.MaxAccessories,
		domain.ResourceStorage:     limits.StorageBytes,
		domain.ResourceAPICalls:    limits.APICallsPerPeriod,
	}
	for _, snap := range snapshots {
		if snap.Unavailable {
			continue
		}
		limit, ok := limitFor[snap.Kind]
		if !ok || limit <= 0 {
			continue
		}
		if snap.Current > limit {
			return &domain.LimitViolationError{
				Resource:  snap.Kind,
				Current:   snap.Current,
				Requested: limit,
			}
		}
	}
	return nil
}

// SuspendTenant flips an active tenant to suspended (billing/ops entry
// point) and drops its cached connection so in-flight handles drain out.
func (m *Manager) SuspendTenant(ctx context.Context, tenantID string) error {
	if !m.locks.tryAcquire(tenantID) {
		return domain.ErrLifecycleConflict
	}
	defer m.locks.release(tenantID)

	if err := m.registry.UpdateStatus(ctx, tenantID, domain.StatusSuspended); err != nil {
		return err
	}
	if err := m.cache.Invalidate(ctx, tenantID); err != nil {
		m.logger.Warn("cache invalidation after suspend failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
	m.logger.Info("tenant suspended", zap.String("tenant_id", tenantID))
	return nil
}

// ReactivateTenant flips a suspended tenant back to active.
func (m *Manager) ReactivateTenant(ctx context.Context, tenantID string) error {
	if !m.locks.tryAcquire(tenantID) {
		return domain.ErrLifecycleConflict
	}
	defer m.locks.release(tenantID)

	if err := m.registry.UpdateStatus(ctx, tenantID, domain.StatusActive); err != nil {
		return err
	}
	m.logger.Info("tenant reactivated", zap.String("tenant_id", tenantID))
	return nil
}

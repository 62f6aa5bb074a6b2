//go:build integration
// +build integration

package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"gearbase/internal/config"
	"gearbase/internal/database"
	"gearbase/internal/domain"
)

func getTestDB(t *testing.T) *sql.DB {
	cfg := &config.DatabaseConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getEnvInt("TEST_DB_PORT", 5432),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		Database: getEnv("TEST_DB_NAME", "gearbase_registry_test"),
		SSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}

	db, err := database.NewPostgresDB(cfg, 5, 2)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil
	}
	return db
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getTestRegistry(t *testing.T) (*PostgresRegistry, *sql.DB) {
	db := getTestDB(t)
	if db == nil {
		return nil, nil
	}
	r := NewPostgresRegistry(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.EnsureSchema(ctx); err != nil {
		db.Close()
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return r, db
}

func integrationTenant(routingKey string) *domain.Tenant {
	return &domain.Tenant{
		ID:             uuid.NewString(),
		Name:           "Integration " + routingKey,
		RoutingKey:     routingKey,
		ConnDescriptor: "host=localhost dbname=gearbase_t_" + routingKey,
		Tier:           domain.TierStarter,
		Status:         domain.StatusProvisioning,
		Limits:         domain.DefaultLimits(domain.TierStarter),
		Features:       map[string]bool{"invoicing": true},
	}
}

func TestPostgresRegistry_EnsureSchemaIdempotent(t *testing.T) {
	r, db := getTestRegistry(t)
	if r == nil {
		return
	}
	defer db.Close()

	if err := r.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema failed: %v", err)
	}
}

func TestPostgresRegistry_CreateAndGet(t *testing.T) {
	r, db := getTestRegistry(t)
	if r == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	key := fmt.Sprintf("it-%s", uuid.NewString()[:8])
	tenant := integrationTenant(key)

	if err := r.Create(ctx, tenant); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer r.Delete(ctx, tenant.ID)

	got, err := r.GetByRoutingKey(ctx, key)
	if err != nil {
		t.Fatalf("GetByRoutingKey failed: %v", err)
	}
	if got.ID != tenant.ID {
		t.Fatalf("expected tenant %s, got %s", tenant.ID, got.ID)
	}
	if !got.Features["invoicing"] {
		t.Fatal("features did not round-trip")
	}
	if got.Limits != tenant.Limits {
		t.Fatalf("limits did not round-trip: %+v", got.Limits)
	}
}

func TestPostgresRegistry_RoutingKeyUniqueness(t *testing.T) {
	r, db := getTestRegistry(t)
	if r == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	key := fmt.Sprintf("it-%s", uuid.NewString()[:8])

	first := integrationTenant(key)
	if err := r.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer r.Delete(ctx, first.ID)

	err := r.Create(ctx, integrationTenant(key))
	if err != domain.ErrRoutingKeyTaken {
		t.Fatalf("expected ErrRoutingKeyTaken, got %v", err)
	}

	// the partial unique index frees the key once the row is deleted
	if err := r.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	second := integrationTenant(key)
	if err := r.Create(ctx, second); err != nil {
		t.Fatalf("Create after delete failed: %v", err)
	}
	_ = r.Delete(ctx, second.ID)
}

func TestPostgresRegistry_StatusTransitions(t *testing.T) {
	r, db := getTestRegistry(t)
	if r == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	tenant := integrationTenant(fmt.Sprintf("it-%s", uuid.NewString()[:8]))
	if err := r.Create(ctx, tenant); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer r.Delete(ctx, tenant.ID)

	if err := r.UpdateStatus(ctx, tenant.ID, domain.StatusActive); err != nil {
		t.Fatalf("UpdateStatus to active failed: %v", err)
	}
	if err := r.UpdateStatus(ctx, tenant.ID, domain.StatusProvisioning); err == nil {
		t.Fatal("expected rejection of active -> provisioning")
	}
	if err := r.UpdateStatus(ctx, tenant.ID, domain.StatusDecommissioning); err != nil {
		t.Fatalf("UpdateStatus to decommissioning failed: %v", err)
	}
	if err := r.UpdateStatus(ctx, tenant.ID, domain.StatusDecommissioned); err != nil {
		t.Fatalf("UpdateStatus to decommissioned failed: %v", err)
	}

	got, err := r.GetByID(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.DecommissionedAt == nil {
		t.Fatal("decommissioned_at not set")
	}
}

func TestPostgresRegistry_Migrations(t *testing.T) {
	r, db := getTestRegistry(t)
	if r == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	tenant := integrationTenant(fmt.Sprintf("it-%s", uuid.NewString()[:8]))
	if err := r.Create(ctx, tenant); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer r.Delete(ctx, tenant.ID)

	rec := &domain.MigrationRecord{
		ID:             uuid.NewString(),
		TenantID:       tenant.ID,
		Script:         "001-init",
		Success:        true,
		ObjectsChanged: []string{"users", "accessories"},
		DurationMS:     12,
		AppliedAt:      time.Now(),
	}
	if err := r.RecordMigration(ctx, rec); err != nil {
		t.Fatalf("RecordMigration failed: %v", err)
	}

	records, err := r.ListMigrations(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ListMigrations failed: %v", err)
	}
	if len(records) != 1 || records[0].Script != "001-init" {
		t.Fatalf("unexpected migration history: %+v", records)
	}
	if len(records[0].ObjectsChanged) != 2 {
		t.Fatalf("objects_changed did not round-trip: %+v", records[0].ObjectsChanged)
	}
}

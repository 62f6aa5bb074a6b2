package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gearbase/internal/domain"
	"gearbase/internal/lifecycle"
	"gearbase/internal/registry"
	"gearbase/internal/usage"
)

// LifecycleManager is the slice of the lifecycle manager the admin API
// uses; an interface so handler tests run against a fake.
type LifecycleManager interface {
	ProvisionTenant(ctx context.Context, cfg lifecycle.ProvisionConfig) (tenantID, adminRef string, err error)
	DecommissionTenant(ctx context.Context, tenantID string, opts lifecycle.DecommissionOptions) (*lifecycle.DecommissionResult, error)
	MigrateTenant(ctx context.Context, tenantID string, script lifecycle.MigrationScript, opts lifecycle.MigrateOptions) (*domain.MigrationRecord, error)
	UpgradeTenantPlan(ctx context.Context, tenantID string, newTier domain.Tier, newLimits *domain.ResourceLimits, override bool) (*domain.Tenant, error)
	SuspendTenant(ctx context.Context, tenantID string) error
	ReactivateTenant(ctx context.Context, tenantID string) error
}

// UsageReader is the slice of the resource monitor the admin API uses.
type UsageReader interface {
	GetUsage(ctx context.Context, tenantID string) ([]domain.UsageSnapshot, error)
}

const adminTenantsPrefix = "/admin/api/v1/tenants"

// TenantAdminHandler exposes tenant lifecycle and usage operations to
// administrative callers.
type TenantAdminHandler struct {
	manager  LifecycleManager
	registry registry.Registry
	monitor  UsageReader
	logger   *zap.Logger
}

func NewTenantAdminHandler(manager LifecycleManager, reg registry.Registry, monitor UsageReader, logger *zap.Logger) *TenantAdminHandler {
	return &TenantAdminHandler{manager: manager, registry: reg, monitor: monitor, logger: logger}
}

func (h *TenantAdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, adminTenantsPrefix)
	rest = strings.Trim(rest, "/")

	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			h.listTenants(w, r)
		case http.MethodPost:
			h.provisionTenant(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	parts := strings.Split(rest, "/")
	tenantID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getTenant(w, r, tenantID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.decommissionTenant(w, r, tenantID)
	case len(parts) == 2 && parts[1] == "migrate" && r.Method == http.MethodPost:
		h.migrateTenant(w, r, tenantID)
	case len(parts) == 2 && parts[1] == "plan" && r.Method == http.MethodPut:
		h.upgradePlan(w, r, tenantID)
	case len(parts) == 2 && parts[1] == "suspend" && r.Method == http.MethodPost:
		h.suspendTenant(w, r, tenantID)
	case len(parts) == 2 && parts[1] == "reactivate" && r.Method == http.MethodPost:
		h.reactivateTenant(w, r, tenantID)
	case len(parts) == 2 && parts[1] == "usage" && r.Method == http.MethodGet:
		h.getUsage(w, r, tenantID)
	case len(parts) == 3 && parts[1] == "usage" && parts[2] == "export" && r.Method == http.MethodGet:
		h.exportUsage(w, r, tenantID)
	case len(parts) == 2 && parts[1] == "migrations" && r.Method == http.MethodGet:
		h.listMigrations(w, r, tenantID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *TenantAdminHandler) listTenants(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filters{
		Status: domain.Status(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
	}
	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("size"), 50)

	items, total, err := h.registry.List(r.Context(), filter, page, size)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": total,
	}))
}

func (h *TenantAdminHandler) provisionTenant(w http.ResponseWriter, r *http.Request) {
	var cfg lifecycle.ProvisionConfig
	if err := readBodyJSON(r, 1<<20, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	tenantID, adminRef, err := h.manager.ProvisionTenant(r.Context(), cfg)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(map[string]any{
		"tenant_id":      tenantID,
		"admin_user_ref": adminRef,
	}))
}

func (h *TenantAdminHandler) getTenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	tenant, err := h.registry.GetByID(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, Ok(tenant))
}

func (h *TenantAdminHandler) decommissionTenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	var opts lifecycle.DecommissionOptions
	if err := readBodyJSON(r, 1<<20, &opts); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	result, err := h.manager.DecommissionTenant(r.Context(), tenantID, opts)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

type migrateRequest struct {
	Script  lifecycle.MigrationScript `json:"script"`
	Options lifecycle.MigrateOptions  `json:"options"`
}

func (h *TenantAdminHandler) migrateTenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req migrateRequest
	if err := readBodyJSON(r, 4<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	record, err := h.manager.MigrateTenant(r.Context(), tenantID, req.Script, req.Options)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, Ok(record))
}

type planRequest struct {
	Tier     domain.Tier            `json:"tier"`
	Limits   *domain.ResourceLimits `json:"limits,omitempty"`
	Override bool                   `json:"override"`
}

func (h *TenantAdminHandler) upgradePlan(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req planRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	tenant, err := h.manager.UpgradeTenantPlan(r.Context(), tenantID, req.Tier, req.Limits, req.Override)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, Ok(tenant))
}

func (h *TenantAdminHandler) suspendTenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	if err := h.manager.SuspendTenant(r.Context(), tenantID); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"tenant_id": tenantID, "status": domain.StatusSuspended}))
}

func (h *TenantAdminHandler) reactivateTenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	if err := h.manager.ReactivateTenant(r.Context(), tenantID); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"tenant_id": tenantID, "status": domain.StatusActive}))
}

func (h *TenantAdminHandler) getUsage(w http.ResponseWriter, r *http.Request, tenantID string) {
	snapshots, err := h.monitor.GetUsage(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, Ok(snapshots))
}

func (h *TenantAdminHandler) exportUsage(w http.ResponseWriter, r *http.Request, tenantID string) {
	tenant, err := h.registry.GetByID(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	snapshots, err := h.monitor.GetUsage(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	book, err := usage.BuildUsageWorkbook(tenant.Name, snapshots)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="usage-%s.xlsx"`, tenant.RoutingKey))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(book)
}

func (h *TenantAdminHandler) listMigrations(w http.ResponseWriter, r *http.Request, tenantID string) {
	records, err := h.registry.ListMigrations(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, Ok(records))
}

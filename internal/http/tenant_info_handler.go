package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// TenantInfoHandler is the tenant-scoped probe endpoint: business
// frontends call it after login to confirm which tenant the request
// resolved to and that its database is reachable.
type TenantInfoHandler struct {
	logger *zap.Logger
}

func NewTenantInfoHandler(logger *zap.Logger) *TenantInfoHandler {
	return &TenantInfoHandler{logger: logger}
}

func (h *TenantInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	handle := TenantFromContext(r.Context())
	if handle == nil {
		writeJSON(w, http.StatusInternalServerError, Fail("no tenant in request context"))
		return
	}

	if err := handle.DB().PingContext(r.Context()); err != nil {
		h.logger.Warn("tenant database ping failed",
			zap.String("tenant_id", handle.TenantID()), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, Fail("tenant database unreachable"))
		return
	}

	stats := handle.DB().Stats()
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"tenant_id":        handle.TenantID(),
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
	}))
}

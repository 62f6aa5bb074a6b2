package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router wraps the standard library http.ServeMux.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler supports the http.Handler interface (pprof etc.).
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterAdminTenantRoutes mounts the tenant lifecycle admin API.
func (r *Router) RegisterAdminTenantRoutes(h *TenantAdminHandler) {
	r.HandleHandler(adminTenantsPrefix, h)
	r.HandleHandler(adminTenantsPrefix+"/", h)
}

// RegisterTenantDataRoutes mounts tenant-scoped business routes behind
// the resolution middleware. Business handlers receive a ready-to-use
// tenant connection via TenantFromContext.
func (r *Router) RegisterTenantDataRoutes(mw *TenantMiddleware, prefix string, h http.Handler) {
	r.HandleHandler(prefix, mw.Wrap(h))
}

// RegisterHealthRoutes mounts the liveness probe.
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok("ok"))
	})
}

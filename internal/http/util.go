package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"gearbase/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// writeDomainError maps subsystem errors to client-facing responses.
// Transient backend failures are reported coarsely (no descriptors or
// registry internals leak) and logged with full detail.
func writeDomainError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var unavailable *domain.TenantUnavailableError
	var limit *domain.LimitViolationError
	var migration *domain.MigrationError
	var registryErr *domain.RegistryError
	var connErr *domain.ConnectionError

	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		writeJSON(w, http.StatusNotFound, Fail("tenant not found"))
	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusForbidden, Fail(unavailable.Error()))
	case errors.Is(err, domain.ErrRoutingKeyTaken):
		writeJSON(w, http.StatusConflict, Fail("routing key already taken"))
	case errors.Is(err, domain.ErrLifecycleConflict):
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
	case errors.As(err, &limit):
		writeJSON(w, http.StatusConflict, Fail(limit.Error()))
	case errors.As(err, &migration):
		writeJSON(w, http.StatusUnprocessableEntity, Fail(migration.Error()))
	case errors.As(err, &registryErr), errors.As(err, &connErr):
		logger.Error("transient backend failure", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, Fail("service temporarily unavailable"))
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}

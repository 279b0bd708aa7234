package auth

import (
	"errors"
	"net/http"

	"github.com/consultadocs/backend/internal/store"
)

// Health handles GET /health. Reports component status; 503 when the
// database is unreachable. A disabled cache is reported but not unhealthy.
func (h *AuthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := "healthy"
	db := "ok"
	if err := h.PS.CheckHealth(r.Context()); err != nil {
		logError(r, "database health check failed", "error", err)
		db = "unreachable"
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	cache := "ok"
	if err := h.DL.CheckHealth(r.Context()); err != nil {
		if errors.Is(err, store.ErrCacheDisabled) {
			cache = "disabled"
		} else {
			logWarn(r, "cache health check failed", "error", err)
			cache = "unreachable"
		}
	}

	writeJSON(w, status, map[string]any{
		"status":   overall,
		"database": db,
		"cache":    cache,
	})
}

package handlers

import (
	"net/http"

	"github.com/exocortex-initiative/forcefield/internal/cache"
	"github.com/exocortex-initiative/forcefield/internal/logger"
)

// CacheAdminHandler handles cache administration endpoints.
type CacheAdminHandler struct {
	cache cache.Cache
}

// NewCacheAdminHandler creates a new cache admin handler.
func NewCacheAdminHandler(c cache.Cache) *CacheAdminHandler {
	return &CacheAdminHandler{cache: c}
}

// InvalidateCache clears all entries from the cache.
// POST /api/admin/cache/invalidate
func (h *CacheAdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.cache.Clear()
	logger.InfoContext(r.Context(), "Cache invalidated")

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Cache invalidated successfully",
	})
}

// GetCacheStats returns current cache statistics.
// GET /api/admin/cache/stats
func (h *CacheAdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

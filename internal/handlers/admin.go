package handlers

import (
	"time"

	"github.com/commitlore/backend/internal/services"
	"github.com/commitlore/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// AdminHandler exposes cache operations to administrators.
type AdminHandler struct {
	reports   *services.ReportCacheService
	summaries *services.SummaryCacheService
}

func NewAdminHandler(reports *services.ReportCacheService, summaries *services.SummaryCacheService) *AdminHandler {
	return &AdminHandler{reports: reports, summaries: summaries}
}

// CacheStats returns report cache effectiveness numbers
// GET /api/admin/cache/stats
func (h *AdminHandler) CacheStats(c *gin.Context) {
	stats, err := h.reports.Stats()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, stats)
}

type cacheCleanupRequest struct {
	OlderThanDays  int `json:"older_than_days"`
	MinAccessCount int `json:"min_access_count"`
}

// CacheCleanup evicts stale cached reports
// POST /api/admin/cache/cleanup
func (h *AdminHandler) CacheCleanup(c *gin.Context) {
	req := cacheCleanupRequest{
		OlderThanDays:  int(services.DefaultReportMaxAge / (24 * time.Hour)),
		MinAccessCount: services.DefaultReportMinAccessCount,
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, err.Error())
		return
	}
	if req.OlderThanDays <= 0 {
		req.OlderThanDays = int(services.DefaultReportMaxAge / (24 * time.Hour))
	}
	if req.MinAccessCount <= 0 {
		req.MinAccessCount = services.DefaultReportMinAccessCount
	}

	removed, err := h.reports.Cleanup(c.Request.Context(),
		time.Duration(req.OlderThanDays)*24*time.Hour, req.MinAccessCount)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"removed": removed})
}

package handlers

import (
	"github.com/commitlore/backend/internal/middleware"
	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/internal/services"
	"github.com/commitlore/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UsageHandler serves the usage ledger and plan catalog.
type UsageHandler struct {
	db    *gorm.DB
	usage *services.UsageService
	auth  *services.AuthService
}

func NewUsageHandler(db *gorm.DB, usage *services.UsageService, auth *services.AuthService) *UsageHandler {
	return &UsageHandler{db: db, usage: usage, auth: auth}
}

// GetUsage returns the current user's plan, this month's ledger and
// all-time totals
// GET /api/usage
func (h *UsageHandler) GetUsage(c *gin.Context) {
	user, err := h.auth.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		response.Unauthorized(c, "user not found")
		return
	}

	usage, err := h.usage.GetUserUsage(user.ID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	plan := user.Plan
	if plan == nil {
		fallback := models.FallbackPlan()
		plan = &fallback
	}

	response.Success(c, gin.H{
		"plan":  plan,
		"usage": usage,
		"limits": gin.H{
			"reports_per_month":    plan.ReportsPerMonth,
			"large_reports":        plan.LargeReportLimit(),
			"commits_per_standard": plan.CommitsPerStandardReport,
			"commits_per_large":    plan.CommitsPerLargeReport,
		},
	})
}

// ListPlans returns the active plan catalog
// GET /api/plans
func (h *UsageHandler) ListPlans(c *gin.Context) {
	var plans []models.Plan
	if err := h.db.Where("is_active = ?", true).Order("reports_per_month ASC").Find(&plans).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, plans)
}

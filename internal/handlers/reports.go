package handlers

import (
	"strconv"
	"time"

	"github.com/commitlore/backend/internal/middleware"
	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/internal/services"
	"github.com/commitlore/backend/pkg/logger"
	"github.com/commitlore/backend/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SignedURLTTL is how long report download links stay valid.
const SignedURLTTL = 15 * time.Minute

// ReportHandler exposes the report pipeline over HTTP.
type ReportHandler struct {
	db           *gorm.DB
	orchestrator *services.Orchestrator
	status       *services.StatusAggregator
	reports      *services.ReportCacheService
	auth         *services.AuthService
	blobs        services.BlobStore
}

func NewReportHandler(
	db *gorm.DB,
	orchestrator *services.Orchestrator,
	status *services.StatusAggregator,
	reports *services.ReportCacheService,
	auth *services.AuthService,
	blobs services.BlobStore,
) *ReportHandler {
	return &ReportHandler{
		db:           db,
		orchestrator: orchestrator,
		status:       status,
		reports:      reports,
		auth:         auth,
		blobs:        blobs,
	}
}

type createReportRequest struct {
	Name       string    `json:"name"`
	Repository string    `json:"repository" binding:"required"`
	Branch     string    `json:"branch"`
	Author     string    `json:"author"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	CommitIDs  []string  `json:"commit_ids" binding:"required,min=1"`
}

// Create starts (or short-circuits) a report pipeline run
// POST /api/reports
func (h *ReportHandler) Create(c *gin.Context) {
	var req createReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.auth.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		response.Unauthorized(c, "user not found")
		return
	}

	result, err := h.orchestrator.CreateReport(c.Request.Context(), user, &services.CreateReportRequest{
		Name:       req.Name,
		Repository: req.Repository,
		Branch:     req.Branch,
		Author:     req.Author,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		CommitIDs:  req.CommitIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.Cached {
		response.Success(c, result)
		return
	}
	response.Created(c, result)
}

// List returns the user's reports, newest first
// GET /api/reports
func (h *ReportHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	userID := middleware.GetUserID(c)
	query := h.db.Model(&models.Report{}).Where("user_id = ?", userID)
	if repo := c.Query("repository"); repo != "" {
		query = query.Where("repository = ?", repo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}

	var reports []models.Report
	err := query.Order("created_at DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&reports).Error
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"reports":   reports,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Get returns one report with commits and, when the artifact exists,
// freshly signed view/download URLs
// GET /api/reports/:id
func (h *ReportHandler) Get(c *gin.Context) {
	report := h.loadOwnReport(c)
	if report == nil {
		return
	}

	h.reports.BumpAccess(report)

	payload := gin.H{"report": report}
	if report.HasArtifact() {
		if viewURL, err := h.blobs.SignedURL(report.PDFKey, "inline", SignedURLTTL); err == nil {
			payload["view_url"] = viewURL
		} else {
			logger.Warnf("[Reports] Failed to sign view URL for report %d: %v", report.ID, err)
		}
		disposition := `attachment; filename="` + report.Name + `.pdf"`
		if downloadURL, err := h.blobs.SignedURL(report.PDFKey, disposition, SignedURLTTL); err == nil {
			payload["download_url"] = downloadURL
		}
	}

	response.Success(c, payload)
}

// Delete removes a report and its stored artifact
// DELETE /api/reports/:id
func (h *ReportHandler) Delete(c *gin.Context) {
	report := h.loadOwnReport(c)
	if report == nil {
		return
	}

	if report.HasArtifact() {
		if err := h.blobs.Delete(c.Request.Context(), report.PDFKey); err != nil {
			logger.Warnf("[Reports] Failed to delete artifact %s: %v", report.PDFKey, err)
		}
	}

	if err := h.db.Select("Commits").Delete(report).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "report deleted"})
}

// StageStatus reports one pipeline stage of a report
// GET /api/reports/:id/status/:stage
func (h *ReportHandler) StageStatus(c *gin.Context) {
	report := h.loadOwnReport(c)
	if report == nil {
		return
	}

	status, err := h.status.StageStatus(c.Request.Context(), report, c.Param("stage"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, status)
}

// loadOwnReport fetches the :id report and enforces ownership. Admin
// users can read any report. Writes the error response itself and
// returns nil when the request should not proceed.
func (h *ReportHandler) loadOwnReport(c *gin.Context) *models.Report {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid report id")
		return nil
	}

	var report models.Report
	if err := h.db.Preload("Commits").First(&report, uint(id)).Error; err != nil {
		response.NotFound(c, "report not found")
		return nil
	}

	if report.UserID != middleware.GetUserID(c) && middleware.GetRole(c) != "admin" {
		response.Forbidden(c, "not your report")
		return nil
	}

	return &report
}

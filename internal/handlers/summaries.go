package handlers

import (
	"strconv"

	"github.com/commitlore/backend/internal/services"
	"github.com/commitlore/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// SummaryHandler exposes the commit summary cache read-only.
type SummaryHandler struct {
	summaries *services.SummaryCacheService
}

func NewSummaryHandler(summaries *services.SummaryCacheService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// List returns cached summaries, optionally filtered by repository
// GET /api/summaries?repository=...&page=...&page_size=...
func (h *SummaryHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	summaries, total, err := h.summaries.List(c.Query("repository"), pageSize, (page-1)*pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"summaries": summaries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Get returns one cached summary. Repository names contain slashes,
// so both keys travel as query params.
// GET /api/summaries/show?repository=...&commit_id=...
func (h *SummaryHandler) Get(c *gin.Context) {
	repository := c.Query("repository")
	commitID := c.Query("commit_id")
	if repository == "" || commitID == "" {
		response.BadRequest(c, "repository and commit_id are required")
		return
	}

	summary := h.summaries.Lookup(repository, commitID)
	if summary == nil {
		response.NotFound(c, "summary not found")
		return
	}
	response.Success(c, summary)
}

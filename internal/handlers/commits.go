package handlers

import (
	"strconv"
	"time"

	"github.com/commitlore/backend/internal/middleware"
	"github.com/commitlore/backend/internal/services"
	"github.com/commitlore/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// CommitHandler serves the commit-picker endpoints backed by the
// forge API.
type CommitHandler struct {
	resolver services.CommitResolver
	auth     *services.AuthService
}

func NewCommitHandler(resolver services.CommitResolver, auth *services.AuthService) *CommitHandler {
	return &CommitHandler{resolver: resolver, auth: auth}
}

type resolveCommitsRequest struct {
	Repository string   `json:"repository" binding:"required"`
	CommitIDs  []string `json:"commit_ids" binding:"required,min=1"`
}

// Resolve fetches metadata for a chosen commit set
// POST /api/commits/resolve
func (h *CommitHandler) Resolve(c *gin.Context) {
	var req resolveCommitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.auth.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		response.Unauthorized(c, "user not found")
		return
	}

	resolved, missing, err := h.resolver.ResolveCommits(c.Request.Context(), user.GitHubToken, req.Repository, req.CommitIDs)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"commits": resolved,
		"missing": missing,
	})
}

// List pages through a repository's commit log with optional filters
// GET /api/commits?repository=...&branch=...&author=...&since=...&until=...
func (h *CommitHandler) List(c *gin.Context) {
	repository := c.Query("repository")
	if repository == "" {
		response.BadRequest(c, "repository is required")
		return
	}

	user, err := h.auth.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		response.Unauthorized(c, "user not found")
		return
	}

	opts := &services.ListCommitsOptions{
		Branch: c.Query("branch"),
		Author: c.Query("author"),
	}
	if since := c.Query("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = t
		}
	}
	if until := c.Query("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			opts.Until = t
		}
	}
	opts.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	opts.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "30"))

	commits, err := h.resolver.ListCommits(c.Request.Context(), user.GitHubToken, repository, opts)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{"commits": commits})
}

package main

import (
	"github.com/commitlore/backend/internal/config"
	"github.com/commitlore/backend/internal/handlers"
	"github.com/commitlore/backend/internal/middleware"
	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/internal/services"
	"github.com/commitlore/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	db := models.GetDB()
	auth := services.NewAuthService(db, &cfg.JWT)

	// Rate limiters: login is the unauthenticated surface, create-report
	// fans out model calls and gets its own budget.
	loginLimiter := middleware.NewRateLimiter(5, 10)
	createLimiter := middleware.NewRateLimiter(2, 5)

	healthHandler := handlers.NewHealthHandler()
	r.GET("/health", healthHandler.CheckHealth)

	api := r.Group("/api")
	{
		// Auth routes (public)
		api.POST("/auth/login", loginLimiter.Middleware(), svc.authHandler.Login)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)
			protected.POST("/auth/github-token", svc.authHandler.SetGitHubToken)

			// Reports
			protected.POST("/reports", createLimiter.Middleware(), svc.reportHandler.Create)
			protected.GET("/reports", svc.reportHandler.List)
			protected.GET("/reports/:id", svc.reportHandler.Get)
			protected.DELETE("/reports/:id", svc.reportHandler.Delete)
			protected.GET("/reports/:id/status/:stage", svc.reportHandler.StageStatus)

			// Commit picker
			protected.GET("/commits", svc.commitHandler.List)
			protected.POST("/commits/resolve", svc.commitHandler.Resolve)

			// Summary cache (read-only)
			summaryHandler := handlers.NewSummaryHandler(svc.summaryCache)
			protected.GET("/summaries", summaryHandler.List)
			protected.GET("/summaries/show", summaryHandler.Get)

			// Usage and plans
			usageHandler := handlers.NewUsageHandler(db, svc.usage, auth)
			protected.GET("/usage", usageHandler.GetUsage)
			protected.GET("/plans", usageHandler.ListPlans)
		}

		// Admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			adminHandler := handlers.NewAdminHandler(svc.reportCache, svc.summaryCache)
			admin.GET("/cache/stats", adminHandler.CacheStats)
			admin.POST("/cache/cleanup", adminHandler.CacheCleanup)
		}
	}
}

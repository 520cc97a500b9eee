package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SetupRoutes registers all API routes with the Gin engine.
func SetupRoutes(r *gin.Engine, deps Deps, logger zerolog.Logger) {
	limitViews := NewLimitViews(deps.Ledger, deps.Coordinator, deps.Gate, logger)
	usageViews := NewUsageViews(deps.Ledger, deps.Coordinator, deps.History, logger)
	authViews := NewAuthorizationViews(deps.Coordinator, deps.Gate, deps.Applied, logger)

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		limits := api.Group("/limits")
		{
			limits.GET("", limitViews.List)
			limits.POST("", limitViews.Create)
			limits.POST("/selection", limitViews.CreateFromSelection)
			limits.GET("/:app", limitViews.Get)
			limits.PUT("/:app", limitViews.Update)
			limits.DELETE("/:app", limitViews.Delete)
		}

		usage := api.Group("/usage")
		{
			usage.POST("", usageViews.Report)
			usage.POST("/batch", usageViews.ReportBatch)
			usage.GET("/total", usageViews.Total)
		}

		api.GET("/history", usageViews.History)

		authorization := api.Group("/authorization")
		{
			authorization.GET("", authViews.Status)
			authorization.PUT("", authViews.Set)
			authorization.POST("/check", authViews.Check)
		}
	}
}
